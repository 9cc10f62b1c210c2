package export

// TensorFlow.js layers-model JSON. Only the fields this project writes and
// validates are modeled; TF.js fills the rest with Keras defaults.

const (
	ModelFile   = "model.json"
	WeightsFile = "group1-shard1of1.bin"

	layersModelFormat = "layers-model"
	generatedBy       = "rr-dnsml"
	kerasVersion      = "2.15.0"
	dtypeFloat32      = "float32"
)

type modelJSON struct {
	Format              string          `json:"format"`
	GeneratedBy         string          `json:"generatedBy"`
	ConvertedBy         *string         `json:"convertedBy"`
	ModelTopology       modelTopology   `json:"modelTopology"`
	WeightsManifest     []manifestGroup `json:"weightsManifest"`
	UserDefinedMetadata *Metadata       `json:"userDefinedMetadata,omitempty"`
}

type modelTopology struct {
	ClassName    string           `json:"class_name"`
	Config       sequentialConfig `json:"config"`
	KerasVersion string           `json:"keras_version"`
	Backend      string           `json:"backend"`
}

type sequentialConfig struct {
	Name   string  `json:"name"`
	Layers []layer `json:"layers"`
}

type layer struct {
	ClassName string      `json:"class_name"`
	Config    layerConfig `json:"config"`
}

type layerConfig struct {
	Name            string       `json:"name"`
	Trainable       *bool        `json:"trainable,omitempty"`
	DType           string       `json:"dtype"`
	BatchInputShape []*int       `json:"batch_input_shape,omitempty"`
	Sparse          *bool        `json:"sparse,omitempty"`
	Units           int          `json:"units,omitempty"`
	Activation      string       `json:"activation,omitempty"`
	UseBias         *bool        `json:"use_bias,omitempty"`
	KernelInit      *initializer `json:"kernel_initializer,omitempty"`
	BiasInit        *initializer `json:"bias_initializer,omitempty"`
}

type initializer struct {
	ClassName string         `json:"class_name"`
	Config    map[string]any `json:"config"`
}

type manifestGroup struct {
	Paths   []string     `json:"paths"`
	Weights []weightSpec `json:"weights"`
}

type weightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

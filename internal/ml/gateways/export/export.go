// Package export writes and reads the classifier as a TensorFlow.js layers
// model: model.json plus one little-endian float32 weight shard.
package export

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

var (
	ErrIncompatibleArchitecture = errors.New("incompatible model architecture")
	ErrArtifactMismatch         = errors.New("exported artifact does not match the trained model")
	ErrInvalidArtifact          = errors.New("invalid model artifact")
)

// Artifact describes files written by Export.
type Artifact struct {
	Dir         string
	ModelPath   string
	WeightsPath string
	WeightBytes int
	ParamCount  int
}

// Bundle is a loaded artifact.
type Bundle struct {
	Model    domain.FittedModel
	Params   domain.NormParams
	Metadata Metadata
}

// Export writes model to dir and verifies the result by loading it back.
// The normalization fields of meta are overwritten from params.
func Export(model domain.FittedModel, params domain.NormParams, meta Metadata, dir string) (Artifact, error) {
	if err := model.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrIncompatibleArchitecture, err)
	}
	if !model.Architecture().Equal(domain.DomainClassifierArchitecture()) {
		return Artifact{}, fmt.Errorf("%w: got %s, want %s", ErrIncompatibleArchitecture, model.Architecture(), domain.DomainClassifierArchitecture())
	}
	if err := params.Validate(); err != nil {
		return Artifact{}, fmt.Errorf("normalization: %w", err)
	}

	meta.Normalization = Normalization{
		Method:       normalizationMethod,
		FeatureNames: slices.Clone(domain.FeatureNames[:]),
		Scales:       slices.Clone(params.Scales[:]),
	}

	weights, manifest, err := encodeWeights(model)
	if err != nil {
		return Artifact{}, err
	}
	doc := modelJSON{
		Format:              layersModelFormat,
		GeneratedBy:         generatedBy,
		ModelTopology:       topology(model),
		WeightsManifest:     []manifestGroup{{Paths: []string{WeightsFile}, Weights: manifest}},
		UserDefinedMetadata: &meta,
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode %s: %w", ModelFile, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		Dir:         dir,
		ModelPath:   filepath.Join(dir, ModelFile),
		WeightsPath: filepath.Join(dir, WeightsFile),
		WeightBytes: len(weights),
		ParamCount:  model.ParamCount(),
	}
	// weights first, so a model.json on disk always has its shard
	if err := writeFileAtomic(art.WeightsPath, weights); err != nil {
		return Artifact{}, err
	}
	if err := writeFileAtomic(art.ModelPath, append(body, '\n')); err != nil {
		return Artifact{}, err
	}

	got, err := Load(dir)
	if err != nil {
		return art, fmt.Errorf("%w: reload: %v", ErrArtifactMismatch, err)
	}
	if err := compare(model, params, got); err != nil {
		return art, fmt.Errorf("%w: %v", ErrArtifactMismatch, err)
	}
	return art, nil
}

// Load reads and validates the artifact in dir.
func Load(dir string) (Bundle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ModelFile))
	if err != nil {
		return Bundle{}, err
	}
	var doc modelJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Bundle{}, fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, ModelFile, err)
	}
	if doc.Format != layersModelFormat {
		return Bundle{}, fmt.Errorf("%w: format %q", ErrInvalidArtifact, doc.Format)
	}

	arch, err := architecture(doc.ModelTopology)
	if err != nil {
		return Bundle{}, err
	}
	if !arch.Equal(domain.DomainClassifierArchitecture()) {
		return Bundle{}, fmt.Errorf("%w: got %s, want %s", ErrIncompatibleArchitecture, arch, domain.DomainClassifierArchitecture())
	}

	model, err := decodeWeights(dir, arch, doc.WeightsManifest)
	if err != nil {
		return Bundle{}, err
	}

	if doc.UserDefinedMetadata == nil {
		return Bundle{}, fmt.Errorf("%w: missing userDefinedMetadata", ErrInvalidArtifact)
	}
	meta := *doc.UserDefinedMetadata
	params, err := normParams(meta.Normalization)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Model: model, Params: params, Metadata: meta}, nil
}

func topology(m domain.FittedModel) modelTopology {
	yes, no := true, false
	layers := []layer{{
		ClassName: "InputLayer",
		Config: layerConfig{
			Name:            "input_1",
			DType:           dtypeFloat32,
			BatchInputShape: []*int{nil, &m.InputDim},
			Sparse:          &no,
		},
	}}
	for _, l := range m.Layers {
		layers = append(layers, layer{
			ClassName: "Dense",
			Config: layerConfig{
				Name:       l.Name,
				Trainable:  &yes,
				DType:      dtypeFloat32,
				Units:      l.Units,
				Activation: string(l.Activation),
				UseBias:    &yes,
				KernelInit: &initializer{ClassName: "GlorotUniform", Config: map[string]any{"seed": nil}},
				BiasInit:   &initializer{ClassName: "Zeros", Config: map[string]any{}},
			},
		})
	}
	return modelTopology{
		ClassName:    "Sequential",
		Config:       sequentialConfig{Name: "sequential", Layers: layers},
		KerasVersion: kerasVersion,
		Backend:      "tensorflow",
	}
}

// architecture reads the layer stack from a Sequential topology. The input
// width comes from the InputLayer, or from the first Dense layer's
// batch_input_shape when the InputLayer is implicit.
func architecture(t modelTopology) (domain.Architecture, error) {
	if t.ClassName != "Sequential" {
		return domain.Architecture{}, fmt.Errorf("%w: model class %q", ErrIncompatibleArchitecture, t.ClassName)
	}
	var arch domain.Architecture
	for i, l := range t.Config.Layers {
		if len(l.Config.BatchInputShape) > 0 {
			if i != 0 {
				return arch, fmt.Errorf("%w: input shape on layer %d", ErrIncompatibleArchitecture, i)
			}
			shape := l.Config.BatchInputShape
			if len(shape) != 2 || shape[0] != nil || shape[1] == nil {
				return arch, fmt.Errorf("%w: batch_input_shape must be [null, n]", ErrIncompatibleArchitecture)
			}
			arch.InputDim = *shape[1]
		}
		switch l.ClassName {
		case "InputLayer":
			if i != 0 {
				return arch, fmt.Errorf("%w: InputLayer at position %d", ErrIncompatibleArchitecture, i)
			}
		case "Dense":
			if l.Config.UseBias != nil && !*l.Config.UseBias {
				return arch, fmt.Errorf("%w: layer %s has no bias", ErrIncompatibleArchitecture, l.Config.Name)
			}
			arch.Layers = append(arch.Layers, domain.LayerSpec{
				Name:       l.Config.Name,
				Units:      l.Config.Units,
				Activation: domain.Activation(l.Config.Activation),
			})
		default:
			return arch, fmt.Errorf("%w: unsupported layer %q", ErrIncompatibleArchitecture, l.ClassName)
		}
	}
	return arch, nil
}

func encodeWeights(m domain.FittedModel) ([]byte, []weightSpec, error) {
	buf := make([]byte, 0, m.ParamCount()*4)
	specs := make([]weightSpec, 0, 2*len(m.Layers))
	in := m.InputDim
	for _, l := range m.Layers {
		specs = append(specs,
			weightSpec{Name: l.Name + "/kernel", Shape: []int{in, l.Units}, DType: dtypeFloat32},
			weightSpec{Name: l.Name + "/bias", Shape: []int{l.Units}, DType: dtypeFloat32},
		)
		for _, vals := range [][]float64{l.Kernel, l.Bias} {
			for _, v := range vals {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return nil, nil, fmt.Errorf("layer %s: non-finite weight %v", l.Name, v)
				}
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
		}
		in = l.Units
	}
	return buf, specs, nil
}

func decodeWeights(dir string, arch domain.Architecture, groups []manifestGroup) (domain.FittedModel, error) {
	var data []byte
	var specs []weightSpec
	for _, g := range groups {
		for _, p := range g.Paths {
			if p != filepath.Base(p) || p == "." || p == ".." {
				return domain.FittedModel{}, fmt.Errorf("%w: weight path %q must be a bare file name", ErrInvalidArtifact, p)
			}
			b, err := os.ReadFile(filepath.Join(dir, p))
			if err != nil {
				return domain.FittedModel{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
			}
			data = append(data, b...)
		}
		specs = append(specs, g.Weights...)
	}

	values := make(map[string][]float64, len(specs))
	offset := 0
	for _, s := range specs {
		if s.DType != dtypeFloat32 {
			return domain.FittedModel{}, fmt.Errorf("%w: weight %s has dtype %q", ErrInvalidArtifact, s.Name, s.DType)
		}
		n := 1
		for _, d := range s.Shape {
			n *= d
		}
		if n < 0 || offset+4*n > len(data) {
			return domain.FittedModel{}, fmt.Errorf("%w: weight data too short for %s", ErrInvalidArtifact, s.Name)
		}
		vals := make([]float64, n)
		for i := range vals {
			bits := binary.LittleEndian.Uint32(data[offset+4*i:])
			vals[i] = float64(math.Float32frombits(bits))
		}
		offset += 4 * n
		values[s.Name] = vals
	}
	if offset != len(data) {
		return domain.FittedModel{}, fmt.Errorf("%w: %d trailing weight bytes", ErrInvalidArtifact, len(data)-offset)
	}

	m := domain.FittedModel{InputDim: arch.InputDim}
	for _, def := range arch.Layers {
		kernel, ok := values[def.Name+"/kernel"]
		if !ok {
			return domain.FittedModel{}, fmt.Errorf("%w: missing %s/kernel", ErrInvalidArtifact, def.Name)
		}
		bias, ok := values[def.Name+"/bias"]
		if !ok {
			return domain.FittedModel{}, fmt.Errorf("%w: missing %s/bias", ErrInvalidArtifact, def.Name)
		}
		m.Layers = append(m.Layers, domain.Layer{
			Name:       def.Name,
			Units:      def.Units,
			Activation: def.Activation,
			Kernel:     kernel,
			Bias:       bias,
		})
	}
	if err := m.Validate(); err != nil {
		return domain.FittedModel{}, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return m, nil
}

func normParams(n Normalization) (domain.NormParams, error) {
	var p domain.NormParams
	if !slices.Equal(n.FeatureNames, domain.FeatureNames[:]) {
		return p, fmt.Errorf("%w: feature names %v, want %v", ErrIncompatibleArchitecture, n.FeatureNames, domain.FeatureNames)
	}
	if len(n.Scales) != domain.FeatureCount {
		return p, fmt.Errorf("%w: %d normalization scales", ErrInvalidArtifact, len(n.Scales))
	}
	copy(p.Scales[:], n.Scales)
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return p, nil
}

// compare checks the reloaded bundle against what was written. Weights
// must match after float32 rounding.
func compare(m domain.FittedModel, params domain.NormParams, got Bundle) error {
	if !got.Model.Architecture().Equal(m.Architecture()) {
		return fmt.Errorf("architecture %s, want %s", got.Model.Architecture(), m.Architecture())
	}
	for i, l := range m.Layers {
		gl := got.Model.Layers[i]
		for _, pair := range [][2][]float64{{l.Kernel, gl.Kernel}, {l.Bias, gl.Bias}} {
			for j, v := range pair[0] {
				if float64(float32(v)) != pair[1][j] {
					return fmt.Errorf("layer %s value %d: wrote %v, read %v", l.Name, j, v, pair[1][j])
				}
			}
		}
	}
	if got.Params != params {
		return fmt.Errorf("normalization scales %v, want %v", got.Params.Scales, params.Scales)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

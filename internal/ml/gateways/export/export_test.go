package export

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

func testModel() domain.FittedModel {
	arch := domain.DomainClassifierArchitecture()
	m := domain.FittedModel{InputDim: arch.InputDim}
	in := arch.InputDim
	k := 0
	for _, def := range arch.Layers {
		l := domain.Layer{Name: def.Name, Units: def.Units, Activation: def.Activation}
		for i := 0; i < in*def.Units; i++ {
			k++
			l.Kernel = append(l.Kernel, float64(float32(float64(k%97-48)/64)))
		}
		for i := 0; i < def.Units; i++ {
			l.Bias = append(l.Bias, float64(float32(float64(i)/128)))
		}
		m.Layers = append(m.Layers, l)
		in = def.Units
	}
	return m
}

func testParams() domain.NormParams {
	return domain.NormParams{Scales: [domain.FeatureCount]float64{20, 3, 1, 2, 1}}
}

func testMeta() Metadata {
	return Metadata{
		RunID:     "9b4c7c8e-0000-4000-8000-000000000001",
		CreatedAt: time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC),
		Extractor: ExtractorConfig{Keywords: []string{"ads", "track"}, SuspiciousTLDs: []string{"xyz"}},
		Training:  &TrainingSummary{Epochs: 15, BatchSize: 16, LearningRate: 0.001, ValidationSplit: 0.2, Seed: 1, TrainRows: 400, ValidationRows: 100},
	}
}

func TestExport_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ml_model")
	art, err := Export(testModel(), testParams(), testMeta(), dir)
	require.NoError(t, err)

	assert.Equal(t, 737, art.ParamCount)
	assert.Equal(t, 737*4, art.WeightBytes)
	fi, err := os.Stat(art.WeightsPath)
	require.NoError(t, err)
	assert.Equal(t, int64(737*4), fi.Size())

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, testModel(), b.Model)
	assert.Equal(t, testParams(), b.Params)
	assert.Equal(t, "9b4c7c8e-0000-4000-8000-000000000001", b.Metadata.RunID)
	assert.True(t, b.Metadata.CreatedAt.Equal(testMeta().CreatedAt))
	assert.Equal(t, []string{"ads", "track"}, b.Metadata.Extractor.Keywords)
	assert.Equal(t, 400, b.Metadata.Training.TrainRows)
	assert.Equal(t, domain.FeatureNames[:], b.Metadata.Normalization.FeatureNames)
}

func TestExport_ModelJSONLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := Export(testModel(), testParams(), testMeta(), dir)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, ModelFile))
	require.NoError(t, err)

	var doc struct {
		Format        string `json:"format"`
		ModelTopology struct {
			ClassName string `json:"class_name"`
			Config    struct {
				Layers []struct {
					ClassName string         `json:"class_name"`
					Config    map[string]any `json:"config"`
				} `json:"layers"`
			} `json:"config"`
		} `json:"modelTopology"`
		WeightsManifest []struct {
			Paths   []string `json:"paths"`
			Weights []struct {
				Name  string `json:"name"`
				Shape []int  `json:"shape"`
				DType string `json:"dtype"`
			} `json:"weights"`
		} `json:"weightsManifest"`
		UserDefinedMetadata map[string]any `json:"userDefinedMetadata"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "layers-model", doc.Format)
	assert.Equal(t, "Sequential", doc.ModelTopology.ClassName)

	layers := doc.ModelTopology.Config.Layers
	require.Len(t, layers, 4)
	assert.Equal(t, "InputLayer", layers[0].ClassName)
	assert.Equal(t, []any{nil, float64(5)}, layers[0].Config["batch_input_shape"])
	for i, want := range []struct {
		units float64
		act   string
	}{{32, "relu"}, {16, "relu"}, {1, "sigmoid"}} {
		assert.Equal(t, "Dense", layers[i+1].ClassName)
		assert.Equal(t, want.units, layers[i+1].Config["units"])
		assert.Equal(t, want.act, layers[i+1].Config["activation"])
	}

	require.Len(t, doc.WeightsManifest, 1)
	assert.Equal(t, []string{"group1-shard1of1.bin"}, doc.WeightsManifest[0].Paths)
	var names []string
	var shapes [][]int
	for _, w := range doc.WeightsManifest[0].Weights {
		names = append(names, w.Name)
		shapes = append(shapes, w.Shape)
		assert.Equal(t, "float32", w.DType)
	}
	assert.Equal(t, []string{"dense/kernel", "dense/bias", "dense_1/kernel", "dense_1/bias", "dense_2/kernel", "dense_2/bias"}, names)
	assert.Equal(t, [][]int{{5, 32}, {32}, {32, 16}, {16}, {16, 1}, {1}}, shapes)

	norm, ok := doc.UserDefinedMetadata["normalization"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{20.0, 3.0, 1.0, 2.0, 1.0}, norm["scales"])
}

func TestExport_RoundsToFloat32(t *testing.T) {
	m := testModel()
	m.Layers[0].Kernel[0] = 0.1
	dir := t.TempDir()
	_, err := Export(m, testParams(), testMeta(), dir)
	require.NoError(t, err)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, float64(float32(0.1)), b.Model.Layers[0].Kernel[0])
}

func TestExport_RejectsOtherArchitectures(t *testing.T) {
	wide := testModel()
	wide.Layers[0].Units = 64
	wide.Layers[0].Kernel = make([]float64, 5*64)
	wide.Layers[0].Bias = make([]float64, 64)

	tanh := testModel()
	tanh.Layers[1].Activation = "tanh"

	short := testModel()
	short.Layers = short.Layers[:2]

	for name, m := range map[string]domain.FittedModel{"wide": wide, "tanh": tanh, "short": short, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			_, err := Export(m, testParams(), testMeta(), dir)
			assert.ErrorIs(t, err, ErrIncompatibleArchitecture)
			_, statErr := os.Stat(dir)
			assert.True(t, os.IsNotExist(statErr), "nothing may be written")
		})
	}
}

func TestExport_RejectsBadParams(t *testing.T) {
	p := testParams()
	p.Scales[2] = 0
	_, err := Export(testModel(), p, testMeta(), t.TempDir())
	assert.Error(t, err)
}

func exported(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := Export(testModel(), testParams(), testMeta(), dir)
	require.NoError(t, err)
	return dir
}

func rewriteModelJSON(t *testing.T, dir string, edit func(string) string) {
	t.Helper()
	path := filepath.Join(dir, ModelFile)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(edit(string(raw))), 0o644))
}

func TestLoad_IncompatibleTopology(t *testing.T) {
	dir := exported(t)
	rewriteModelJSON(t, dir, func(s string) string {
		return strings.Replace(s, `"units": 16`, `"units": 8`, 1)
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrIncompatibleArchitecture)
}

func TestLoad_WrongFormat(t *testing.T) {
	dir := exported(t)
	rewriteModelJSON(t, dir, func(s string) string {
		return strings.Replace(s, `"layers-model"`, `"graph-model"`, 1)
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestLoad_PathTraversal(t *testing.T) {
	dir := exported(t)
	rewriteModelJSON(t, dir, func(s string) string {
		return strings.Replace(s, `"group1-shard1of1.bin"`, `"../group1-shard1of1.bin"`, 1)
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestLoad_TruncatedWeights(t *testing.T) {
	dir := exported(t)
	path := filepath.Join(dir, WeightsFile)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0o644))

	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrInvalidArtifact)

	require.NoError(t, os.WriteFile(path, append(raw, 0, 0, 0, 0), 0o644))
	_, err = Load(dir)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestLoad_MissingNormalization(t *testing.T) {
	dir := exported(t)
	rewriteModelJSON(t, dir, func(s string) string {
		return strings.Replace(s, `"has_long_digit_run"`, `"digits"`, 1)
	})
	_, err := Load(dir)
	assert.ErrorIs(t, err, ErrIncompatibleArchitecture)
}

func TestLoad_MissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompare_DetectsMismatch(t *testing.T) {
	b := Bundle{Model: testModel(), Params: testParams()}
	require.NoError(t, compare(testModel(), testParams(), b))

	b.Model.Layers[2].Bias[0] += 1
	assert.Error(t, compare(testModel(), testParams(), b))

	b = Bundle{Model: testModel(), Params: domain.IdentityNormParams()}
	assert.Error(t, compare(testModel(), testParams(), b))
}

func TestEncodeWeights_LittleEndianFloat32InManifestOrder(t *testing.T) {
	m := testModel()
	data, specs, err := encodeWeights(m)
	require.NoError(t, err)
	require.Len(t, data, m.ParamCount()*4)
	require.Len(t, specs, 2*len(m.Layers))
	assert.Equal(t, "dense/kernel", specs[0].Name)
	assert.Equal(t, []int{5, 32}, specs[0].Shape)

	first := m.Layers[0].Kernel[0]
	assert.Equal(t, math.Float32bits(float32(first)), binary.LittleEndian.Uint32(data[0:4]))
	lastLayer := m.Layers[len(m.Layers)-1]
	lastBias := lastLayer.Bias[len(lastLayer.Bias)-1]
	assert.Equal(t, math.Float32bits(float32(lastBias)), binary.LittleEndian.Uint32(data[len(data)-4:]))
}

func TestEncodeWeights_RejectsNonFinite(t *testing.T) {
	m := testModel()
	m.Layers[1].Bias[3] = math.Inf(1)
	_, _, err := encodeWeights(m)
	require.Error(t, err)
}

package trainer

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
	"github.com/haukened/rr-dnsml/internal/ml/services/dataset"
	"github.com/haukened/rr-dnsml/internal/ml/services/features"
	"github.com/haukened/rr-dnsml/internal/ml/services/normalize"
)

var adDomains = []string{
	"ads.google.com", "trackers.example.net", "banner.adserver.com",
	"promo.clickhub.xyz", "metrics.data.net", "beacon.analytics.com",
	"doubleclick.net", "telemetry.apple.fake", "stats.tracker.org",
}

var normalDomains = []string{
	"google.com", "wikipedia.org", "github.com",
	"youtube.com", "nytimes.com", "stackoverflow.com",
	"microsoft.com", "amazon.com", "openai.com",
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Logger = log.NewNoopLogger()
	return cfg
}

// syntheticRows draws 500 labeled rows with replacement from the two lists.
func syntheticRows(seed uint64) domain.Dataset {
	rng := rand.New(rand.NewPCG(seed, seed))
	var d domain.Dataset
	for i := 0; i < 500; i++ {
		if rng.Float64() > 0.5 {
			d.Records = append(d.Records, domain.Record{Domain: adDomains[rng.IntN(len(adDomains))], Label: domain.LabelBlocked})
		} else {
			d.Records = append(d.Records, domain.Record{Domain: normalDomains[rng.IntN(len(normalDomains))], Label: domain.LabelAllowed})
		}
	}
	return d
}

func prepare(d domain.Dataset) ([]domain.FeatureVector, []domain.Label, domain.NormParams) {
	raw := features.Default().ExtractBatch(d.Domains())
	params := normalize.Fit(raw)
	return normalize.ApplyBatch(raw, params), d.Labels(), params
}

func score(t *testing.T, res Result, params domain.NormParams, names ...string) []float64 {
	t.Helper()
	x := normalize.ApplyBatch(features.Default().ExtractBatch(names), params)
	p, err := Predict(res.Model, x)
	require.NoError(t, err)
	return p
}

func TestTrain_ConfigurationErrors(t *testing.T) {
	x := []domain.FeatureVector{{1, 1, 0, 0, 0}, {1, 1, 0, 1, 0}}
	y := []domain.Label{0, 1}

	tests := []struct {
		name string
		x    []domain.FeatureVector
		y    []domain.Label
		cfg  func(*Config)
		want error
	}{
		{"empty features", nil, nil, nil, ErrEmptyInput},
		{"empty labels", x, nil, nil, ErrEmptyInput},
		{"length mismatch", x, y[:1], nil, ErrLengthMismatch},
		{"zero epochs", x, y, func(c *Config) { c.Epochs = 0 }, ErrInvalidConfig},
		{"zero batch", x, y, func(c *Config) { c.BatchSize = 0 }, ErrInvalidConfig},
		{"bad learning rate", x, y, func(c *Config) { c.LearningRate = math.NaN() }, ErrInvalidConfig},
		{"split of one", x, y, func(c *Config) { c.ValidationSplit = 1 }, ErrInvalidConfig},
		{"split leaves nothing", x[:1], y[:1], nil, ErrEmptyInput},
		{"invalid label", x, []domain.Label{0, 5}, nil, ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := quietConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			_, err := Train(context.Background(), tt.x, tt.y, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestTrain_EmptyDatasetIsRejected(t *testing.T) {
	d := dataset.BuildSeeded(nil, normalDomains, 1)
	require.True(t, d.IsEmpty())
	x, y, _ := prepare(d)
	_, err := Train(context.Background(), x, y, quietConfig())
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTrain_NumericInstabilityIsReported(t *testing.T) {
	x := []domain.FeatureVector{{math.NaN(), 1, 0, 0, 0}, {1, 1, 0, 1, 0}, {1, 2, 0, 0, 0}, {1, 1, 0, 1, 1}}
	y := []domain.Label{0, 1, 0, 1}
	res, err := Train(context.Background(), x, y, quietConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumericInstability)
	assert.NotErrorIs(t, err, ErrConfiguration)
	require.Len(t, res.History, 1)
	assert.True(t, math.IsNaN(res.History[0].Loss))
}

func TestTrain_ContextCancelled(t *testing.T) {
	x, y, _ := prepare(syntheticRows(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, x, y, quietConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_ResultShape(t *testing.T) {
	x, y, _ := prepare(syntheticRows(2))

	var seen []int
	cfg := quietConfig()
	cfg.OnEpoch = func(m domain.EpochMetrics) { seen = append(seen, m.Epoch) }

	res, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)

	assert.True(t, res.Model.Architecture().Equal(domain.DomainClassifierArchitecture()))
	require.NoError(t, res.Model.Validate())
	assert.Equal(t, 400, res.TrainRows)
	assert.Equal(t, 100, res.ValidationRows)
	assert.Len(t, res.History, 15)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, seen)

	for _, m := range res.History {
		assert.False(t, math.IsNaN(m.Loss))
		assert.GreaterOrEqual(t, m.Accuracy, 0.0)
		assert.LessOrEqual(t, m.Accuracy, 1.0)
		assert.Greater(t, m.ValLoss, 0.0)
	}
	assert.Less(t, res.History[14].Loss, res.History[0].Loss)
}

func TestTrain_WeightsAreFloat32Exact(t *testing.T) {
	x, y, _ := prepare(syntheticRows(3))
	res, err := Train(context.Background(), x, y, quietConfig())
	require.NoError(t, err)
	for _, l := range res.Model.Layers {
		for _, w := range l.Kernel {
			require.Equal(t, w, float64(float32(w)))
		}
		for _, b := range l.Bias {
			require.Equal(t, b, float64(float32(b)))
		}
	}
}

func TestTrain_Deterministic(t *testing.T) {
	x, y, _ := prepare(syntheticRows(4))
	a, err := Train(context.Background(), x, y, quietConfig())
	require.NoError(t, err)
	b, err := Train(context.Background(), x, y, quietConfig())
	require.NoError(t, err)
	assert.Equal(t, a.Model, b.Model)
	assert.Equal(t, a.History, b.History)

	cfg := quietConfig()
	cfg.Seed = 99
	c, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Model, c.Model)
}

func TestTrain_NoValidationSplit(t *testing.T) {
	x, y, _ := prepare(syntheticRows(5))
	cfg := quietConfig()
	cfg.ValidationSplit = 0
	cfg.Epochs = 2
	res, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.Equal(t, 500, res.TrainRows)
	assert.Zero(t, res.ValidationRows)
	assert.Zero(t, res.History[0].ValLoss)
}

func TestTrain_SyntheticRanksAdsAboveNormal(t *testing.T) {
	x, y, params := prepare(syntheticRows(6))
	cfg := quietConfig()
	cfg.Epochs = 50
	res, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)

	p := score(t, res, params, "doubleclick.net", "github.com")
	assert.Greater(t, p[0], p[1])
	last, _ := res.History.Last()
	assert.Greater(t, last.ValAccuracy, 0.8)
}

func TestTrain_EndToEndSmallPools(t *testing.T) {
	d := dataset.BuildSeeded(
		[]string{"ads.tracker.net", "trackers.example.net"},
		[]string{"google.com", "wikipedia.org"},
		1,
	)
	require.Equal(t, 4, d.Len())

	x, y, params := prepare(d)
	cfg := quietConfig()
	cfg.Epochs = 200
	cfg.LearningRate = 0.01
	res, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TrainRows)
	assert.Equal(t, 1, res.ValidationRows)

	p := score(t, res, params, "ads.tracker.net", "google.com")
	for _, v := range p {
		assert.Greater(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
	assert.Greater(t, p[0], p[1])
}

func TestNewNetwork_RejectsInvalidModel(t *testing.T) {
	_, err := NewNetwork(domain.FittedModel{})
	assert.Error(t, err)
	_, err = Predict(domain.FittedModel{InputDim: 5}, nil)
	assert.Error(t, err)
}

func TestNetwork_ModelRoundTrip(t *testing.T) {
	x, y, _ := prepare(syntheticRows(7))
	cfg := quietConfig()
	cfg.Epochs = 1
	res, err := Train(context.Background(), x, y, cfg)
	require.NoError(t, err)

	net, err := NewNetwork(res.Model)
	require.NoError(t, err)
	assert.Equal(t, res.Model, net.Model())
	assert.Nil(t, net.Predict(nil))
}

func TestBCE(t *testing.T) {
	assert.InDelta(t, -math.Log(0.9), bce(0.9, 1), 1e-12)
	assert.InDelta(t, -math.Log(0.9), bce(0.1, 0), 1e-12)
	assert.True(t, finite(bce(0, 1)))
	assert.True(t, finite(bce(1, 0)))
	assert.True(t, math.IsNaN(bce(math.NaN(), 1)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.ValidationSplit = -0.1
	assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig))
}

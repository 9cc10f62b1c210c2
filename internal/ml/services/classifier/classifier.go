// Package classifier scores domains, either with an exported model artifact
// or with fixed lexical rules when no model is in use.
package classifier

import (
	"fmt"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/metrics"
	"github.com/haukened/rr-dnsml/internal/ml/common/utils"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
	"github.com/haukened/rr-dnsml/internal/ml/gateways/export"
	"github.com/haukened/rr-dnsml/internal/ml/repos/scorecache"
	"github.com/haukened/rr-dnsml/internal/ml/services/features"
	"github.com/haukened/rr-dnsml/internal/ml/services/normalize"
	"github.com/haukened/rr-dnsml/internal/ml/services/trainer"
)

// DefaultThreshold is the score at or above which a domain is reported blocked.
const DefaultThreshold = 0.7

// Mode selects how scores are produced.
type Mode string

const (
	ModeModel     Mode = "model"
	ModeHeuristic Mode = "heuristic"
)

// ParseMode accepts "model" and "heuristic".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeModel, ModeHeuristic:
		return m, nil
	}
	return "", fmt.Errorf("unknown scoring mode %q", s)
}

// Options configures a Classifier.
type Options struct {
	// Cache memoizes predictions. Nil disables caching.
	Cache scorecache.Cache
	// Threshold defaults to DefaultThreshold when zero.
	Threshold float64
	Logger    log.Logger
}

// Classifier scores domains with a network rebuilt from an artifact, or
// with the heuristic rules when net is nil. It is safe for concurrent use.
type Classifier struct {
	net       *trainer.Network
	params    domain.NormParams
	extractor *features.Extractor
	threshold float64
	cache     scorecache.Cache
	logger    log.Logger
	meta      export.Metadata
}

// New builds a model-mode Classifier from a loaded bundle. The extractor
// uses the keyword and TLD sets recorded in the bundle metadata.
func New(b export.Bundle, opts Options) (*Classifier, error) {
	net, err := trainer.NewNetwork(b.Model)
	if err != nil {
		return nil, err
	}
	if err := b.Params.Validate(); err != nil {
		return nil, fmt.Errorf("normalization: %w", err)
	}
	return newClassifier(net, b.Params, features.New(features.Options{
		Keywords:       b.Metadata.Extractor.Keywords,
		SuspiciousTLDs: b.Metadata.Extractor.SuspiciousTLDs,
	}), b.Metadata, opts)
}

// NewHeuristic builds a Classifier that scores with HeuristicScore over the
// default keyword set. It needs no artifact.
func NewHeuristic(opts Options) (*Classifier, error) {
	return newClassifier(nil, domain.IdentityNormParams(), features.Default(), export.Metadata{}, opts)
}

func newClassifier(net *trainer.Network, params domain.NormParams, ex *features.Extractor, meta export.Metadata, opts Options) (*Classifier, error) {
	c := &Classifier{
		net:       net,
		params:    params,
		extractor: ex,
		threshold: opts.Threshold,
		cache:     opts.Cache,
		logger:    opts.Logger,
		meta:      meta,
	}
	if c.threshold == 0 {
		c.threshold = DefaultThreshold
	}
	if !(c.threshold > 0 && c.threshold <= 1) {
		return nil, fmt.Errorf("threshold must be in (0,1], got %v", c.threshold)
	}
	if c.cache == nil {
		c.cache, _ = scorecache.New(0)
	}
	if c.logger == nil {
		c.logger = log.GetLogger()
	}
	return c, nil
}

// Open loads the artifact in dir and builds a Classifier from it.
func Open(dir string, opts Options) (*Classifier, error) {
	b, err := export.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load model from %s: %w", dir, err)
	}
	c, err := New(b, opts)
	if err != nil {
		return nil, err
	}
	c.logger.Info(map[string]any{
		"dir":        dir,
		"run_id":     b.Metadata.RunID,
		"created_at": b.Metadata.CreatedAt,
		"params":     b.Model.ParamCount(),
	}, "classifier_loaded")
	return c, nil
}

// Mode reports whether scores come from the model or the heuristic.
func (c *Classifier) Mode() Mode {
	if c.net == nil {
		return ModeHeuristic
	}
	return ModeModel
}

// Predict scores one domain.
func (c *Classifier) Predict(name string) domain.Prediction {
	return c.PredictBatch([]string{name})[0]
}

// PredictBatch scores names in order. Cached names skip scoring.
func (c *Classifier) PredictBatch(names []string) []domain.Prediction {
	out := make([]domain.Prediction, len(names))
	var missIdx []int
	var missVec []domain.FeatureVector
	for i, raw := range names {
		name := utils.CanonicalDNSName(raw)
		if p, ok := c.cache.Get(name); ok {
			out[i] = p
			continue
		}
		v := c.extractor.ExtractDomain(name)
		out[i] = domain.Prediction{Domain: name, Features: v}
		missIdx = append(missIdx, i)
		missVec = append(missVec, normalize.Apply(v, c.params))
	}

	scores := c.score(out, missIdx, missVec)
	for j, i := range missIdx {
		out[i].Score = scores[j]
		out[i].Confidence = domain.ConfidenceFor(scores[j])
		out[i].Blocked = scores[j] >= c.threshold
		c.cache.Put(out[i].Domain, out[i])
	}

	mode := string(c.Mode())
	for _, p := range out {
		verdict := "allowed"
		if p.Blocked {
			verdict = "blocked"
		}
		metrics.Predictions.WithLabelValues(verdict).Inc()
		c.logger.Debug(map[string]any{
			"domain":     p.Domain,
			"mode":       mode,
			"score":      p.Score,
			"confidence": string(p.Confidence),
			"blocked":    p.Blocked,
			"features":   p.Features.Map(),
		}, "classifier_predict")
	}
	return out
}

func (c *Classifier) score(out []domain.Prediction, missIdx []int, missVec []domain.FeatureVector) []float64 {
	if c.net != nil {
		return c.net.Predict(missVec)
	}
	scores := make([]float64, len(missIdx))
	for j, i := range missIdx {
		scores[j] = HeuristicScore(out[i].Domain, out[i].Features)
	}
	return scores
}

// Features returns the raw and normalized vectors for name. The raw vector
// is the one training computes for the same name.
func (c *Classifier) Features(name string) (raw, normalized domain.FeatureVector) {
	raw = c.extractor.ExtractDomain(name)
	return raw, normalize.Apply(raw, c.params)
}

func (c *Classifier) CacheStats() scorecache.Stats { return c.cache.Stats() }

func (c *Classifier) Metadata() export.Metadata { return c.meta }

func (c *Classifier) Threshold() float64 { return c.threshold }

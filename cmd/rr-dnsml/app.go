package main

import (
	"fmt"

	"github.com/haukened/rr-dnsml/internal/ml/common/clock"
	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/config"
	"github.com/haukened/rr-dnsml/internal/ml/gateways/fetch"
	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus"
	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus/bloom"
	"github.com/haukened/rr-dnsml/internal/ml/repos/corpus/bolt"
	"github.com/haukened/rr-dnsml/internal/ml/repos/scorecache"
	"github.com/haukened/rr-dnsml/internal/ml/services/classifier"
	"github.com/haukened/rr-dnsml/internal/ml/services/features"
	"github.com/haukened/rr-dnsml/internal/ml/services/pipeline"
	"github.com/haukened/rr-dnsml/internal/ml/services/trainer"
)

// Application holds the wired pipeline and the resources it owns.
type Application struct {
	config   *config.AppConfig
	pipeline *pipeline.Pipeline
	store    corpus.Store
}

// Close releases the corpus store.
func (app *Application) Close() error {
	return app.store.Close()
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	store, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus store: %w", err)
	}

	fetcher := fetch.New(
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithLogger(logger),
	)

	repo := corpus.NewRepository(corpus.Options{
		Store:   store,
		Fetcher: fetcher,
		Clock:   clk,
		Logger:  logger,
		MaxAge:  cfg.CorpusMaxAge,
		Blocked: corpus.Source{URL: cfg.BlocklistURL, Format: cfg.BlocklistFormat},
		Allowed: corpus.Source{URL: cfg.TrancoURL, Format: corpus.FormatTranco, TopN: cfg.TrancoTopN},
	})

	opts := pipeline.Options{
		Corpus:      repo,
		LabeledPath: cfg.LabeledPath,
		Extractor:   buildExtractor(cfg),
		Train:       trainConfig(cfg),
		DatasetPath: cfg.DatasetPath,
		ExportDir:   cfg.ExportDir,
		MetricsFile: cfg.MetricsFile,
		Timeout:     cfg.PipelineTimeout,
		Clock:       clk,
		Logger:      logger,
	}
	if cfg.DropOverlap {
		opts.Overlap = corpus.NewOverlapFilter(bloom.NewFactory(), cfg.OverlapFPRate, logger)
		log.Info(map[string]any{"fp_rate": cfg.OverlapFPRate}, "overlap filter enabled")
	}

	return &Application{
		config:   cfg,
		pipeline: pipeline.New(opts),
		store:    store,
	}, nil
}

func buildStore(cfg *config.AppConfig) (corpus.Store, error) {
	if cfg.CorpusDB == "" {
		return corpus.NopStore{}, nil
	}
	store, err := bolt.New(cfg.CorpusDB)
	if err != nil {
		return nil, err
	}
	log.Info(map[string]any{
		"path":    cfg.CorpusDB,
		"max_age": cfg.CorpusMaxAge.String(),
	}, "corpus store opened")
	return store, nil
}

func buildExtractor(cfg *config.AppConfig) *features.Extractor {
	return features.New(features.Options{
		Keywords:       cfg.Keywords,
		SuspiciousTLDs: cfg.SuspiciousTLDs,
	})
}

func trainConfig(cfg *config.AppConfig) trainer.Config {
	return trainer.Config{
		Epochs:          cfg.TrainEpochs,
		BatchSize:       cfg.TrainBatchSize,
		LearningRate:    cfg.TrainLearningRate,
		ValidationSplit: cfg.TrainValidationSplit,
		Seed:            cfg.Seed,
	}
}

// openClassifier builds a classifier for mode with the configured score
// cache and threshold. Model mode loads the exported model in dir; heuristic
// mode needs no model.
func openClassifier(cfg *config.AppConfig, mode classifier.Mode, dir string) (*classifier.Classifier, error) {
	cache, err := scorecache.New(cfg.ScoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}
	opts := classifier.Options{
		Cache:     cache,
		Threshold: cfg.ScoreThreshold,
		Logger:    log.GetLogger(),
	}
	if mode == classifier.ModeHeuristic {
		return classifier.NewHeuristic(opts)
	}
	return classifier.Open(dir, opts)
}

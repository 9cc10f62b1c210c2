package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DNSML_"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Seed drives sampling, shuffling and weight initialization.
	Seed uint64 `koanf:"seed"`

	// BlocklistURL is the source of blocked domains.
	BlocklistURL string `koanf:"blocklist_url" validate:"required,source_url"`

	// BlocklistFormat is "plain" (one domain per line, wildcard markers
	// allowed) or "hosts".
	BlocklistFormat string `koanf:"blocklist_format" validate:"required,oneof=plain hosts"`

	// TrancoURL is the zipped rank,domain CSV of allowed domains.
	TrancoURL string `koanf:"tranco_url" validate:"required,source_url"`

	// TrancoTopN keeps only the first N ranked domains.
	TrancoTopN int `koanf:"tranco_top_n" validate:"required,gte=1"`

	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required,min=1s"`

	// CorpusDB is the bbolt file caching fetched pools. Empty disables it.
	CorpusDB string `koanf:"corpus_db"`

	// CorpusMaxAge is how long a cached pool is reused before refetching.
	CorpusMaxAge time.Duration `koanf:"corpus_max_age" validate:"min=0s"`

	// DropOverlap removes allowed domains that also appear in the blocked pool.
	DropOverlap   bool    `koanf:"drop_overlap"`
	OverlapFPRate float64 `koanf:"overlap_fp_rate" validate:"gt=0,lt=1"`

	DatasetPath string `koanf:"dataset_path" validate:"required"`

	// LabeledPath is an optional domain,blocked CSV used as the corpus in
	// place of the two remote lists. It is rebalanced before training.
	LabeledPath string `koanf:"labeled_path"`

	TrainEpochs          int     `koanf:"train_epochs" validate:"required,gte=1"`
	TrainBatchSize       int     `koanf:"train_batch_size" validate:"required,gte=1"`
	TrainLearningRate    float64 `koanf:"train_learning_rate" validate:"gt=0"`
	TrainValidationSplit float64 `koanf:"train_validation_split" validate:"gte=0,lt=1"`

	// ExportDir receives model.json and the weight shard.
	ExportDir string `koanf:"export_dir" validate:"required"`

	// MetricsFile is a Prometheus textfile path. Empty disables it.
	MetricsFile string `koanf:"metrics_file"`

	// PipelineTimeout bounds a whole run. Zero means no limit.
	PipelineTimeout time.Duration `koanf:"pipeline_timeout" validate:"min=0s"`

	// ScoreCacheSize is the classifier LRU size. Zero disables caching.
	ScoreCacheSize int `koanf:"score_cache_size" validate:"gte=0"`

	// ScoreThreshold is the score at or above which predict reports blocked.
	ScoreThreshold float64 `koanf:"score_threshold" validate:"gt=0,lte=1"`

	// ScoreMode is "model" (exported network) or "heuristic" (fixed rules).
	ScoreMode string `koanf:"score_mode" validate:"required,oneof=model heuristic"`

	Keywords       []string `koanf:"keywords" validate:"dive,required"`
	SuspiciousTLDs []string `koanf:"suspicious_tlds" validate:"dive,required"`
}

// DEFAULT_APP_CONFIG trains on the OISD wildcard
// list against the Tranco top 50k, 15 epochs of batch 16 with 20% held out.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                  "prod",
	LogLevel:             "info",
	Seed:                 1,
	BlocklistURL:         "https://big.oisd.nl/domainswild",
	BlocklistFormat:      "plain",
	TrancoURL:            "https://tranco-list.eu/top-1m.csv.zip",
	TrancoTopN:           50000,
	FetchTimeout:         60 * time.Second,
	CorpusDB:             "",
	CorpusMaxAge:         24 * time.Hour,
	DropOverlap:          false,
	OverlapFPRate:        0.01,
	DatasetPath:          "dataset.csv",
	LabeledPath:          "",
	TrainEpochs:          15,
	TrainBatchSize:       16,
	TrainLearningRate:    0.001,
	TrainValidationSplit: 0.2,
	ExportDir:            "ml_model",
	MetricsFile:          "",
	PipelineTimeout:      0,
	ScoreCacheSize:       1000,
	ScoreThreshold:       0.7,
	ScoreMode:            "model",
	Keywords:             []string{"ads", "track", "metrics", "click", "banner", "promo", "beacon", "telemetry", "doubleclick"},
	SuspiciousTLDs:       []string{"xyz", "click", "info", "top"},
}

// validSourceURL accepts absolute http or https URLs with a host.
func validSourceURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// envLoader loads variables prefixed with "DNSML_", lowercases the keys and
// splits space or comma separated values into lists. Tests may swap it.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("source_url", validSourceURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

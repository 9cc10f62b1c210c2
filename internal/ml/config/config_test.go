package config

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel=info, got %q", cfg.LogLevel)
	}
	if cfg.BlocklistURL != "https://big.oisd.nl/domainswild" {
		t.Errorf("unexpected BlocklistURL %q", cfg.BlocklistURL)
	}
	if cfg.TrancoTopN != 50000 {
		t.Errorf("expected TrancoTopN=50000, got %d", cfg.TrancoTopN)
	}
	if cfg.FetchTimeout != 60*time.Second {
		t.Errorf("expected FetchTimeout=60s, got %v", cfg.FetchTimeout)
	}
	if cfg.TrainEpochs != 15 || cfg.TrainBatchSize != 16 {
		t.Errorf("expected 15 epochs of batch 16, got %d/%d", cfg.TrainEpochs, cfg.TrainBatchSize)
	}
	if cfg.TrainLearningRate != 0.001 || cfg.TrainValidationSplit != 0.2 {
		t.Errorf("unexpected optimizer defaults %v/%v", cfg.TrainLearningRate, cfg.TrainValidationSplit)
	}
	if cfg.CorpusDB != "" || cfg.MetricsFile != "" {
		t.Errorf("expected corpus db and metrics file disabled by default")
	}
	if !slices.Equal(cfg.SuspiciousTLDs, []string{"xyz", "click", "info", "top"}) {
		t.Errorf("unexpected SuspiciousTLDs %v", cfg.SuspiciousTLDs)
	}
	if cfg.ScoreThreshold != 0.7 || cfg.ScoreMode != "model" {
		t.Errorf("expected model scoring at 0.7, got %q at %v", cfg.ScoreMode, cfg.ScoreThreshold)
	}
	if cfg.LabeledPath != "" {
		t.Errorf("expected no labeled input by default, got %q", cfg.LabeledPath)
	}
	if len(cfg.Keywords) != 9 {
		t.Errorf("expected 9 default keywords, got %v", cfg.Keywords)
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("DNSML_ENV", "dev")
	t.Setenv("DNSML_LOG_LEVEL", "debug")
	t.Setenv("DNSML_SEED", "42")
	t.Setenv("DNSML_BLOCKLIST_URL", "http://127.0.0.1:8080/hosts")
	t.Setenv("DNSML_BLOCKLIST_FORMAT", "hosts")
	t.Setenv("DNSML_TRANCO_TOP_N", "100")
	t.Setenv("DNSML_FETCH_TIMEOUT", "5s")
	t.Setenv("DNSML_CORPUS_DB", "/tmp/corpus.db")
	t.Setenv("DNSML_CORPUS_MAX_AGE", "1h")
	t.Setenv("DNSML_DROP_OVERLAP", "true")
	t.Setenv("DNSML_TRAIN_EPOCHS", "3")
	t.Setenv("DNSML_TRAIN_LEARNING_RATE", "0.01")
	t.Setenv("DNSML_TRAIN_VALIDATION_SPLIT", "0")
	t.Setenv("DNSML_PIPELINE_TIMEOUT", "10m")
	t.Setenv("DNSML_KEYWORDS", "ads, track,pixel")
	t.Setenv("DNSML_SUSPICIOUS_TLDS", "zip")
	t.Setenv("DNSML_LABELED_PATH", "labeled.csv")
	t.Setenv("DNSML_SCORE_MODE", "heuristic")
	t.Setenv("DNSML_SCORE_THRESHOLD", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" || cfg.LogLevel != "debug" {
		t.Errorf("expected dev/debug, got %q/%q", cfg.Env, cfg.LogLevel)
	}
	if cfg.Seed != 42 {
		t.Errorf("expected Seed=42, got %d", cfg.Seed)
	}
	if cfg.BlocklistFormat != "hosts" {
		t.Errorf("expected BlocklistFormat=hosts, got %q", cfg.BlocklistFormat)
	}
	if cfg.TrancoTopN != 100 {
		t.Errorf("expected TrancoTopN=100, got %d", cfg.TrancoTopN)
	}
	if cfg.FetchTimeout != 5*time.Second || cfg.CorpusMaxAge != time.Hour || cfg.PipelineTimeout != 10*time.Minute {
		t.Errorf("unexpected durations %v %v %v", cfg.FetchTimeout, cfg.CorpusMaxAge, cfg.PipelineTimeout)
	}
	if cfg.CorpusDB != "/tmp/corpus.db" || !cfg.DropOverlap {
		t.Errorf("unexpected corpus settings %q %v", cfg.CorpusDB, cfg.DropOverlap)
	}
	if cfg.TrainEpochs != 3 || cfg.TrainLearningRate != 0.01 || cfg.TrainValidationSplit != 0 {
		t.Errorf("unexpected training overrides %d %v %v", cfg.TrainEpochs, cfg.TrainLearningRate, cfg.TrainValidationSplit)
	}
	if !slices.Equal(cfg.Keywords, []string{"ads", "track", "pixel"}) {
		t.Errorf("unexpected Keywords %v", cfg.Keywords)
	}
	if !slices.Equal(cfg.SuspiciousTLDs, []string{"zip"}) {
		t.Errorf("unexpected SuspiciousTLDs %v", cfg.SuspiciousTLDs)
	}
	if cfg.LabeledPath != "labeled.csv" || cfg.ScoreMode != "heuristic" || cfg.ScoreThreshold != 1 {
		t.Errorf("unexpected scoring overrides %q %q %v", cfg.LabeledPath, cfg.ScoreMode, cfg.ScoreThreshold)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"env", "DNSML_ENV", "staging"},
		{"log level", "DNSML_LOG_LEVEL", "trace"},
		{"blocklist scheme", "DNSML_BLOCKLIST_URL", "ftp://example.com/list"},
		{"blocklist relative", "DNSML_BLOCKLIST_URL", "/etc/hosts"},
		{"tranco url", "DNSML_TRANCO_URL", "not a url"},
		{"blocklist format", "DNSML_BLOCKLIST_FORMAT", "adblock"},
		{"top n", "DNSML_TRANCO_TOP_N", "0"},
		{"top n nan", "DNSML_TRANCO_TOP_N", "many"},
		{"fetch timeout", "DNSML_FETCH_TIMEOUT", "10ms"},
		{"fp rate", "DNSML_OVERLAP_FP_RATE", "1.5"},
		{"epochs", "DNSML_TRAIN_EPOCHS", "-1"},
		{"batch", "DNSML_TRAIN_BATCH_SIZE", "0"},
		{"learning rate", "DNSML_TRAIN_LEARNING_RATE", "0"},
		{"split", "DNSML_TRAIN_VALIDATION_SPLIT", "1"},
		{"threshold", "DNSML_SCORE_THRESHOLD", "1.5"},
		{"threshold zero", "DNSML_SCORE_THRESHOLD", "0"},
		{"score mode", "DNSML_SCORE_MODE", "auto"},
		{"cache size", "DNSML_SCORE_CACHE_SIZE", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_WhenEnvLoaderFails(t *testing.T) {
	orig := envLoader
	envLoader = func(k *koanf.Koanf) error {
		return errors.New("mocked error")
	}
	defer func() { envLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mocked error") {
		t.Fatalf("expected env loader error, got %v", err)
	}
}

func TestLoad_WhenDefaultLoaderFails(t *testing.T) {
	orig := defaultLoader
	defaultLoader = func(k *koanf.Koanf) error {
		return errors.New("defaults broke")
	}
	defer func() { defaultLoader = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "error loading default config") {
		t.Fatalf("expected default loader error, got %v", err)
	}
}

func TestLoad_WhenRegisterValidationFails(t *testing.T) {
	orig := registerValidation
	registerValidation = func(v *validator.Validate) error {
		return errors.New("no validators")
	}
	defer func() { registerValidation = orig }()

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "error registering validation") {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestValidSourceURL(t *testing.T) {
	type target struct {
		URL string `validate:"source_url"`
	}
	v := validator.New()
	if err := v.RegisterValidation("source_url", validSourceURL); err != nil {
		t.Fatalf("register: %v", err)
	}
	cases := map[string]bool{
		"https://big.oisd.nl/domainswild":      true,
		"http://127.0.0.1:9999/top-1m.csv.zip": true,
		"file:///etc/hosts":                    false,
		"example.com/list":                     false,
		"":                                     false,
	}
	for in, want := range cases {
		err := v.Struct(target{URL: in})
		if (err == nil) != want {
			t.Errorf("source_url(%q): got err=%v, want valid=%v", in, err, want)
		}
	}
}

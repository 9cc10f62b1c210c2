// Package pipeline runs the offline training flow end to end:
// corpus → dataset → features → normalization → training → export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/rr-dnsml/internal/ml/common/clock"
	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/common/metrics"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
	"github.com/haukened/rr-dnsml/internal/ml/gateways/export"
	"github.com/haukened/rr-dnsml/internal/ml/repos/datasetfile"
	"github.com/haukened/rr-dnsml/internal/ml/services/dataset"
	"github.com/haukened/rr-dnsml/internal/ml/services/features"
	"github.com/haukened/rr-dnsml/internal/ml/services/normalize"
	"github.com/haukened/rr-dnsml/internal/ml/services/trainer"
)

const (
	// headRows is how many dataset rows the build report logs.
	headRows = 10
	// stagnantTol is the loss change below which a run is reported stagnant.
	stagnantTol = 1e-4
)

// ErrUnbalancedDataset rejects a persisted dataset whose class counts differ.
var ErrUnbalancedDataset = errors.New("dataset is not balanced")

// CorpusLoader supplies the two domain pools.
type CorpusLoader interface {
	LoadAll(ctx context.Context) (blocked, allowed []string, err error)
}

// OverlapFilter removes allowed domains covered by the blocked pool.
type OverlapFilter interface {
	Filter(blocked, allowed []string) ([]string, int)
}

// Options configures a Pipeline. Corpus is only needed when the dataset
// has to be built and LabeledPath is empty.
type Options struct {
	Corpus CorpusLoader
	// LabeledPath is a domain,blocked CSV that replaces Corpus as the input.
	LabeledPath string
	// Overlap is applied before balancing when set.
	Overlap   OverlapFilter
	Extractor *features.Extractor
	Train     trainer.Config

	DatasetPath string
	ExportDir   string
	MetricsFile string
	// Timeout bounds a whole run. Zero means no limit.
	Timeout time.Duration

	Clock    clock.Clock
	Logger   log.Logger
	NewRunID func() string
}

// Report summarizes a training run.
type Report struct {
	RunID     string
	Rows      int
	Blocked   int
	Allowed   int
	Params    domain.NormParams
	History   domain.History
	Artifact  export.Artifact
	StartedAt time.Time
	Duration  time.Duration
}

// Pipeline wires the stages together. Stages run sequentially and ctx is
// checked between them.
type Pipeline struct {
	opts Options
}

// New returns a Pipeline, filling unset collaborators with defaults.
func New(opts Options) *Pipeline {
	if opts.Extractor == nil {
		opts.Extractor = features.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Train.Logger == nil {
		opts.Train.Logger = opts.Logger
	}
	return &Pipeline{opts: opts}
}

// BuildDataset loads the input (LabeledPath when set, the corpus
// otherwise), optionally drops overlap, builds the balanced dataset and
// saves it to DatasetPath.
func (p *Pipeline) BuildDataset(ctx context.Context) (domain.Dataset, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	defer p.writeMetrics()
	return p.buildDataset(ctx)
}

func (p *Pipeline) buildDataset(ctx context.Context) (domain.Dataset, error) {
	var (
		ds                       domain.Dataset
		blockedPool, allowedPool int
		err                      error
	)
	if p.opts.LabeledPath != "" {
		ds, blockedPool, allowedPool, err = p.buildFromLabeled(ctx)
	} else {
		ds, blockedPool, allowedPool, err = p.buildFromCorpus(ctx)
	}
	if err != nil {
		return domain.Dataset{}, err
	}
	p.report(ds, blockedPool, allowedPool)

	if p.opts.DatasetPath != "" {
		if err := datasetfile.Save(p.opts.DatasetPath, ds); err != nil {
			return ds, fmt.Errorf("save dataset: %w", err)
		}
		p.opts.Logger.Info(map[string]any{"path": p.opts.DatasetPath, "rows": ds.Len()}, "dataset_saved")
	}
	return ds, nil
}

func (p *Pipeline) buildFromCorpus(ctx context.Context) (domain.Dataset, int, int, error) {
	if p.opts.Corpus == nil {
		return domain.Dataset{}, 0, 0, errors.New("no corpus configured")
	}

	var blocked, allowed []string
	if err := p.stage(ctx, "fetch", func() error {
		var err error
		blocked, allowed, err = p.opts.Corpus.LoadAll(ctx)
		return err
	}); err != nil {
		return domain.Dataset{}, 0, 0, err
	}

	if p.opts.Overlap != nil {
		if err := p.stage(ctx, "overlap", func() error {
			var dropped int
			allowed, dropped = p.opts.Overlap.Filter(blocked, allowed)
			metrics.OverlapDropped.Add(float64(dropped))
			return nil
		}); err != nil {
			return domain.Dataset{}, 0, 0, err
		}
	}

	var ds domain.Dataset
	if err := p.stage(ctx, "build", func() error {
		ds = dataset.BuildSeeded(blocked, allowed, p.opts.Train.Seed)
		return nil
	}); err != nil {
		return domain.Dataset{}, 0, 0, err
	}
	return ds, len(blocked), len(allowed), nil
}

// buildFromLabeled reads LabeledPath and rebalances its records with the
// seeded source.
func (p *Pipeline) buildFromLabeled(ctx context.Context) (domain.Dataset, int, int, error) {
	var records []domain.Record
	if err := p.stage(ctx, "load", func() error {
		loaded, st, err := datasetfile.Load(p.opts.LabeledPath, p.opts.Logger)
		if err != nil {
			return err
		}
		metrics.DatasetRowsDropped.Add(float64(st.Dropped))
		p.opts.Logger.Info(map[string]any{
			"path":    p.opts.LabeledPath,
			"rows":    st.Rows,
			"dropped": st.Dropped,
		}, "labeled_input_loaded")
		records = loaded.Records
		return nil
	}); err != nil {
		return domain.Dataset{}, 0, 0, err
	}

	if p.opts.Overlap != nil {
		if err := p.stage(ctx, "overlap", func() error {
			records = p.dropOverlap(records)
			return nil
		}); err != nil {
			return domain.Dataset{}, 0, 0, err
		}
	}

	var ds domain.Dataset
	if err := p.stage(ctx, "build", func() error {
		ds = dataset.FromRecords(records, dataset.NewRand(p.opts.Train.Seed))
		return nil
	}); err != nil {
		return domain.Dataset{}, 0, 0, err
	}
	blocked, allowed := dataset.Pools(records)
	return ds, len(blocked), len(allowed), nil
}

// dropOverlap removes allowed records covered by the blocked records.
func (p *Pipeline) dropOverlap(records []domain.Record) []domain.Record {
	blocked, allowed := dataset.Pools(records)
	kept, dropped := p.opts.Overlap.Filter(blocked, allowed)
	metrics.OverlapDropped.Add(float64(dropped))

	keep := make(map[string]struct{}, len(kept))
	for _, d := range kept {
		keep[d] = struct{}{}
	}
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if !r.IsBlocked() {
			if _, ok := keep[r.Domain]; !ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// loadOrBuildDataset reads DatasetPath when it exists and builds it otherwise.
func (p *Pipeline) loadOrBuildDataset(ctx context.Context) (domain.Dataset, error) {
	if p.opts.DatasetPath != "" {
		ds, st, err := datasetfile.Load(p.opts.DatasetPath, p.opts.Logger)
		switch {
		case err == nil:
			if !ds.Balanced() {
				blocked, allowed := ds.Counts()
				return domain.Dataset{}, fmt.Errorf("%w: %s has %d blocked and %d allowed rows; rebuild it from a labeled file",
					ErrUnbalancedDataset, p.opts.DatasetPath, blocked, allowed)
			}
			metrics.DatasetRowsDropped.Add(float64(st.Dropped))
			metrics.ObserveDataset(ds)
			p.opts.Logger.Info(map[string]any{
				"path":    p.opts.DatasetPath,
				"rows":    st.Rows,
				"dropped": st.Dropped,
			}, "dataset_loaded")
			return ds, nil
		case !errors.Is(err, fs.ErrNotExist):
			return domain.Dataset{}, fmt.Errorf("load dataset: %w", err)
		}
	}
	return p.buildDataset(ctx)
}

// Train runs the whole flow, reusing the dataset file when present.
func (p *Pipeline) Train(ctx context.Context) (Report, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	defer p.writeMetrics()

	ds, err := p.loadOrBuildDataset(ctx)
	if err != nil {
		return Report{}, err
	}
	return p.run(ctx, ds)
}

// Run builds a dataset from the given pools and trains and exports on it.
// Nothing is read from or written to DatasetPath.
func (p *Pipeline) Run(ctx context.Context, blocked, allowed []string) (Report, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	defer p.writeMetrics()

	var ds domain.Dataset
	if err := p.stage(ctx, "build", func() error {
		ds = dataset.BuildSeeded(blocked, allowed, p.opts.Train.Seed)
		return nil
	}); err != nil {
		return Report{}, err
	}
	p.report(ds, len(blocked), len(allowed))
	return p.run(ctx, ds)
}

func (p *Pipeline) run(ctx context.Context, ds domain.Dataset) (Report, error) {
	rep := Report{
		RunID:     p.opts.NewRunID(),
		Rows:      ds.Len(),
		StartedAt: p.opts.Clock.Now(),
	}
	rep.Blocked, rep.Allowed = ds.Counts()
	logger := p.opts.Logger

	var raw, x []domain.FeatureVector
	if err := p.stage(ctx, "extract", func() error {
		raw = p.opts.Extractor.ExtractDomains(ds.Domains())
		return nil
	}); err != nil {
		return rep, err
	}
	if err := p.stage(ctx, "normalize", func() error {
		rep.Params = normalize.Fit(raw)
		x = normalize.ApplyBatch(raw, rep.Params)
		return nil
	}); err != nil {
		return rep, err
	}
	logger.Info(map[string]any{"run_id": rep.RunID, "scales": rep.Params.Scales}, "normalization_fit")

	cfg := p.opts.Train
	onEpoch := cfg.OnEpoch
	cfg.OnEpoch = func(m domain.EpochMetrics) {
		metrics.ObserveEpoch(m)
		if onEpoch != nil {
			onEpoch(m)
		}
	}
	var res trainer.Result
	if err := p.stage(ctx, "train", func() error {
		var err error
		res, err = trainer.Train(ctx, x, ds.Labels(), cfg)
		return err
	}); err != nil {
		rep.History = res.History
		return rep, err
	}
	rep.History = res.History
	switch {
	case res.History.Diverging():
		logger.Warn(map[string]any{"run_id": rep.RunID, "epochs": len(res.History)}, "training_diverging")
	case res.History.Stagnant(stagnantTol):
		logger.Warn(map[string]any{"run_id": rep.RunID, "epochs": len(res.History)}, "training_stagnant")
	}

	last, _ := res.History.Last()
	meta := export.Metadata{
		RunID:     rep.RunID,
		CreatedAt: p.opts.Clock.Now(),
		Extractor: export.ExtractorConfig{
			Keywords:       p.opts.Extractor.Keywords(),
			SuspiciousTLDs: p.opts.Extractor.SuspiciousTLDs(),
		},
		Training: &export.TrainingSummary{
			Epochs:           cfg.Epochs,
			BatchSize:        cfg.BatchSize,
			LearningRate:     cfg.LearningRate,
			ValidationSplit:  cfg.ValidationSplit,
			Seed:             cfg.Seed,
			TrainRows:        res.TrainRows,
			ValidationRows:   res.ValidationRows,
			FinalLoss:        last.Loss,
			FinalAccuracy:    last.Accuracy,
			FinalValLoss:     last.ValLoss,
			FinalValAccuracy: last.ValAccuracy,
		},
	}
	if err := p.stage(ctx, "export", func() error {
		var err error
		rep.Artifact, err = export.Export(res.Model, rep.Params, meta, p.opts.ExportDir)
		return err
	}); err != nil {
		return rep, err
	}

	rep.Duration = p.opts.Clock.Now().Sub(rep.StartedAt)
	logger.Info(map[string]any{
		"run_id":       rep.RunID,
		"dir":          rep.Artifact.Dir,
		"params":       rep.Artifact.ParamCount,
		"final_loss":   last.Loss,
		"val_accuracy": last.ValAccuracy,
		"duration":     rep.Duration.String(),
	}, "model_exported")
	return rep, nil
}

// stage checks ctx, runs fn and records its wall time.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	start := p.opts.Clock.Now()
	p.opts.Logger.Debug(map[string]any{"stage": name}, "stage_start")
	err := fn()
	elapsed := p.opts.Clock.Now().Sub(start)
	metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		p.opts.Logger.Error(map[string]any{"stage": name, "error": err}, "stage_failed")
		return fmt.Errorf("%s: %w", name, err)
	}
	p.opts.Logger.Debug(map[string]any{"stage": name, "elapsed": elapsed.String()}, "stage_done")
	return nil
}

// report logs dataset counts and its first rows.
func (p *Pipeline) report(ds domain.Dataset, blockedPool, allowedPool int) {
	metrics.ObserveDataset(ds)
	blocked, allowed := ds.Counts()
	p.opts.Logger.Info(map[string]any{
		"blocked_pool": blockedPool,
		"allowed_pool": allowedPool,
		"rows":         ds.Len(),
		"blocked":      blocked,
		"allowed":      allowed,
	}, "dataset_built")
	if ds.IsEmpty() {
		p.opts.Logger.Warn(map[string]any{"blocked_pool": blockedPool, "allowed_pool": allowedPool}, "dataset_empty")
	}
	for i, r := range ds.Head(headRows) {
		p.opts.Logger.Info(map[string]any{"row": i, "domain": r.Domain, "blocked": r.Label.String()}, "dataset_head")
	}
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.Timeout > 0 {
		return context.WithTimeout(ctx, p.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) writeMetrics() {
	if err := metrics.WriteTextfile(p.opts.MetricsFile); err != nil {
		p.opts.Logger.Warn(map[string]any{"error": err}, "metrics_write_failed")
	}
}

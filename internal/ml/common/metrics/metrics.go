// Package metrics declares the pipeline's Prometheus collectors. They live
// on Registry, not the default registerer, and are dumped to a
// node_exporter textfile at the end of a run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

// Registry holds every collector in this package.
var Registry = prometheus.NewRegistry()

var (
	// Domains per pool after parsing and cleaning.
	CorpusDomains = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnsml_corpus_domains",
		Help: "Domains in each corpus pool after parsing",
	}, []string{"pool"})

	// Lines a parser skipped as comments, blanks or invalid names.
	CorpusLinesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsml_corpus_lines_skipped_total",
		Help: "Source lines skipped while parsing a corpus pool",
	}, []string{"pool"})

	// Where a pool came from: the network or the bbolt cache.
	CorpusLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsml_corpus_loads_total",
		Help: "Corpus pool loads by pool and source",
	}, []string{"pool", "source"})

	OverlapDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsml_overlap_dropped_total",
		Help: "Allowed domains removed because they are also blocked",
	})

	DatasetRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnsml_dataset_rows",
		Help: "Rows in the built or loaded dataset by label",
	}, []string{"label"})

	DatasetRowsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsml_dataset_rows_dropped_total",
		Help: "Dataset file rows dropped as malformed",
	})

	TrainEpochs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnsml_train_epochs_total",
		Help: "Completed training epochs",
	})

	TrainLoss = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnsml_train_loss",
		Help: "Binary cross-entropy of the last completed epoch",
	}, []string{"split"})

	TrainAccuracy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dnsml_train_accuracy",
		Help: "Accuracy at threshold 0.5 of the last completed epoch",
	}, []string{"split"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dnsml_stage_duration_seconds",
		Help:    "Wall time of each pipeline stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	Predictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dnsml_predictions_total",
		Help: "Classifier verdicts",
	}, []string{"verdict"})
)

func init() {
	Registry.MustRegister(
		CorpusDomains,
		CorpusLinesSkipped,
		CorpusLoads,
		OverlapDropped,
		DatasetRows,
		DatasetRowsDropped,
		TrainEpochs,
		TrainLoss,
		TrainAccuracy,
		StageDuration,
		Predictions,
	)
}

// ObserveEpoch records one epoch of training metrics.
func ObserveEpoch(m domain.EpochMetrics) {
	TrainEpochs.Inc()
	TrainLoss.WithLabelValues("train").Set(m.Loss)
	TrainAccuracy.WithLabelValues("train").Set(m.Accuracy)
	TrainLoss.WithLabelValues("validation").Set(m.ValLoss)
	TrainAccuracy.WithLabelValues("validation").Set(m.ValAccuracy)
}

// ObserveDataset records the label counts of ds.
func ObserveDataset(ds domain.Dataset) {
	blocked, allowed := ds.Counts()
	DatasetRows.WithLabelValues("blocked").Set(float64(blocked))
	DatasetRows.WithLabelValues("allowed").Set(float64(allowed))
}

// WriteTextfile writes Registry in the text exposition format. An empty
// path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

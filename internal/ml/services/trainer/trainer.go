// Package trainer fits the domain classifier: a 5-32-16-1 dense network
// trained with binary cross-entropy and Adam.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/haukened/rr-dnsml/internal/ml/common/log"
	"github.com/haukened/rr-dnsml/internal/ml/domain"
	"github.com/haukened/rr-dnsml/internal/ml/services/dataset"
)

// ErrConfiguration is the parent of every error that rejects a run before
// any gradient step.
var ErrConfiguration = errors.New("training configuration error")

var (
	ErrEmptyInput         = fmt.Errorf("%w: empty training input", ErrConfiguration)
	ErrLengthMismatch     = fmt.Errorf("%w: features and labels differ in length", ErrConfiguration)
	ErrInvalidConfig      = fmt.Errorf("%w: invalid hyperparameters", ErrConfiguration)
	ErrNumericInstability = errors.New("numeric instability during training")
)

// probability clipping applied before taking logs, as Keras does.
const epsilon = 1e-7

// Config holds the training hyperparameters.
type Config struct {
	Epochs          int
	BatchSize       int
	LearningRate    float64
	ValidationSplit float64
	Seed            uint64

	// optional
	Logger  log.Logger
	OnEpoch func(domain.EpochMetrics)
}

// DefaultConfig returns the stock hyperparameters: 15 epochs, batch
// size 16, Adam at 0.001, 20% held out.
func DefaultConfig() Config {
	return Config{
		Epochs:          15,
		BatchSize:       16,
		LearningRate:    0.001,
		ValidationSplit: 0.2,
		Seed:            1,
	}
}

// Validate checks hyperparameter ranges.
func (c Config) Validate() error {
	switch {
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0):
		return fmt.Errorf("%w: learning rate must be positive, got %v", ErrInvalidConfig, c.LearningRate)
	case c.ValidationSplit < 0 || c.ValidationSplit >= 1 || math.IsNaN(c.ValidationSplit):
		return fmt.Errorf("%w: validation split must be in [0,1), got %v", ErrInvalidConfig, c.ValidationSplit)
	}
	return nil
}

// Result is a fitted model and its training trace.
type Result struct {
	Model   domain.FittedModel
	History domain.History
	// TrainRows and ValidationRows record the fixed partition sizes.
	TrainRows      int
	ValidationRows int
}

// Train fits the domain classifier on normalized features. The last
// ValidationSplit fraction of rows is held out once and never updated on;
// the remaining rows are reshuffled every epoch with a source seeded from
// cfg.Seed. ctx is checked between epochs.
func Train(ctx context.Context, features []domain.FeatureVector, labels []domain.Label, cfg Config) (Result, error) {
	if len(features) == 0 || len(labels) == 0 {
		return Result{}, ErrEmptyInput
	}
	if len(features) != len(labels) {
		return Result{}, fmt.Errorf("%w: %d features, %d labels", ErrLengthMismatch, len(features), len(labels))
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger()
	}

	y := make([]float64, len(labels))
	for i, l := range labels {
		if !l.Valid() {
			return Result{}, fmt.Errorf("%w: label %d at row %d", ErrConfiguration, l, i)
		}
		y[i] = l.Float()
	}

	split := domain.SplitIndex(len(features), cfg.ValidationSplit)
	if split == 0 {
		return Result{}, fmt.Errorf("%w: validation split %v leaves no training rows out of %d", ErrEmptyInput, cfg.ValidationSplit, len(features))
	}
	trainX, trainY := features[:split], y[:split]
	valX, valY := features[split:], y[split:]

	rng := dataset.NewRand(cfg.Seed)
	net := newNetwork(domain.DomainClassifierArchitecture(), rng)
	opt := newAdam(net, cfg.LearningRate)

	logger.Info(map[string]any{
		"train_rows":      len(trainX),
		"validation_rows": len(valX),
		"epochs":          cfg.Epochs,
		"batch_size":      cfg.BatchSize,
		"learning_rate":   cfg.LearningRate,
		"architecture":    domain.DomainClassifierArchitecture().String(),
	}, "train_start")

	order := make([]int, len(trainX))
	for i := range order {
		order[i] = i
	}

	history := make(domain.History, 0, cfg.Epochs)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("training aborted before epoch %d: %w", epoch, err)
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			bx := make([]domain.FeatureVector, 0, end-start)
			by := make([]float64, 0, end-start)
			for _, idx := range order[start:end] {
				bx = append(bx, trainX[idx])
				by = append(by, trainY[idx])
			}

			acts, zs := net.forward(toMatrix(bx))
			pred := column(acts[len(acts)-1])
			l, c := scoreBatch(pred, by)
			lossSum += l
			correct += c

			opt.step(net, net.backward(acts, zs, by))
		}

		m := domain.EpochMetrics{
			Epoch:    epoch,
			Loss:     lossSum / float64(len(trainX)),
			Accuracy: float64(correct) / float64(len(trainX)),
		}
		if len(valX) > 0 {
			vl, vc := scoreBatch(net.Predict(valX), valY)
			m.ValLoss = vl / float64(len(valX))
			m.ValAccuracy = float64(vc) / float64(len(valX))
		}
		if !finite(m.Loss) || !finite(m.ValLoss) {
			logger.Error(map[string]any{"epoch": epoch, "loss": m.Loss, "val_loss": m.ValLoss}, "train_numeric_instability")
			return Result{History: append(history, m)}, fmt.Errorf("%w: epoch %d loss=%v val_loss=%v", ErrNumericInstability, epoch, m.Loss, m.ValLoss)
		}

		history = append(history, m)
		logger.Info(map[string]any{
			"epoch":        epoch,
			"loss":         m.Loss,
			"accuracy":     m.Accuracy,
			"val_loss":     m.ValLoss,
			"val_accuracy": m.ValAccuracy,
		}, "train_epoch_done")
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(m)
		}
	}

	if history.Diverging() {
		logger.Warn(map[string]any{"first_loss": history[0].Loss, "final_loss": history[len(history)-1].Loss}, "train_loss_increased")
	}

	return Result{
		Model:          net.Model(),
		History:        history,
		TrainRows:      len(trainX),
		ValidationRows: len(valX),
	}, nil
}

// Predict runs model on normalized vectors and returns blocked probabilities.
func Predict(model domain.FittedModel, batch []domain.FeatureVector) ([]float64, error) {
	net, err := NewNetwork(model)
	if err != nil {
		return nil, err
	}
	return net.Predict(batch), nil
}

// scoreBatch returns the summed BCE loss and the count of correct
// predictions at threshold 0.5.
func scoreBatch(pred, y []float64) (loss float64, correct int) {
	for i, p := range pred {
		loss += bce(p, y[i])
		if (p > 0.5) == (y[i] == 1) {
			correct++
		}
	}
	return loss, correct
}

func bce(p, y float64) float64 {
	if math.IsNaN(p) {
		return p
	}
	p = math.Min(math.Max(p, epsilon), 1-epsilon)
	return -(y*math.Log(p) + (1-y)*math.Log(1-p))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

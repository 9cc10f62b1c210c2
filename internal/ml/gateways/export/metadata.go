package export

import "time"

// Metadata is stored under userDefinedMetadata. It carries everything an
// inference runtime needs besides the network: the feature function and
// the normalization scales.
type Metadata struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Normalization Normalization    `json:"normalization"`
	Extractor     ExtractorConfig  `json:"extractor"`
	Training      *TrainingSummary `json:"training,omitempty"`
}

// Normalization records the per-feature divisors. Scales[i] applies to
// FeatureNames[i].
type Normalization struct {
	Method       string    `json:"method"`
	FeatureNames []string  `json:"feature_names"`
	Scales       []float64 `json:"scales"`
}

// ExtractorConfig is the keyword and TLD sets the features were computed with.
type ExtractorConfig struct {
	Keywords       []string `json:"keywords"`
	SuspiciousTLDs []string `json:"suspicious_tlds"`
}

// TrainingSummary describes the run that produced the weights.
type TrainingSummary struct {
	Epochs           int     `json:"epochs"`
	BatchSize        int     `json:"batch_size"`
	LearningRate     float64 `json:"learning_rate"`
	ValidationSplit  float64 `json:"validation_split"`
	Seed             uint64  `json:"seed"`
	TrainRows        int     `json:"train_rows"`
	ValidationRows   int     `json:"validation_rows"`
	FinalLoss        float64 `json:"final_loss"`
	FinalAccuracy    float64 `json:"final_accuracy"`
	FinalValLoss     float64 `json:"final_val_loss"`
	FinalValAccuracy float64 `json:"final_val_accuracy"`
}

const normalizationMethod = "divide_by_column_max"

package models

import (
	"fmt"

	"github.com/tabsynth/tabsynth/pkg/errors"
)

// Condition policies for rare-category rebalancing during training.
const (
	ConditionPolicyLogFrequency     = "log-frequency"
	ConditionPolicyInverseFrequency = "inverse-frequency"
	ConditionPolicyUniform          = "uniform"
)

// Config contains configuration for the conditional tabular synthesizer.
type Config struct {
	// Training parameters
	Epochs             int     `json:"epochs" mapstructure:"epochs"`
	BatchSize          int     `json:"batch_size" mapstructure:"batch_size"`
	LearningRate       float64 `json:"learning_rate" mapstructure:"learning_rate"`
	Beta1              float64 `json:"beta1" mapstructure:"beta1"`
	Beta2              float64 `json:"beta2" mapstructure:"beta2"`
	DiscriminatorSteps int     `json:"discriminator_steps" mapstructure:"discriminator_steps"`

	// Architecture parameters
	EmbeddingDim      int   `json:"embedding_dim" mapstructure:"embedding_dim"`
	GeneratorDims     []int `json:"generator_dims" mapstructure:"generator_dims"`
	DiscriminatorDims []int `json:"discriminator_dims" mapstructure:"discriminator_dims"`
	PacSize           int   `json:"pac_size" mapstructure:"pac_size"`

	// Loss weights
	GradientPenaltyWeight float64 `json:"gradient_penalty_weight" mapstructure:"gradient_penalty_weight"`

	// Column transformation
	MaxMixtureComponents int     `json:"max_mixture_components" mapstructure:"max_mixture_components"`
	MixtureWeightFloor   float64 `json:"mixture_weight_floor" mapstructure:"mixture_weight_floor"`

	// Conditional sampling
	ConditionPolicy string `json:"condition_policy" mapstructure:"condition_policy"`

	// Differential privacy
	EnableDifferentialPrivacy bool    `json:"enable_differential_privacy" mapstructure:"enable_differential_privacy"`
	PrivacyBudget             float64 `json:"privacy_budget" mapstructure:"privacy_budget"`
	PrivacyDelta              float64 `json:"privacy_delta" mapstructure:"privacy_delta"`
	ClipNorm                  float64 `json:"clip_norm" mapstructure:"clip_norm"`
	NoiseMultiplier           float64 `json:"noise_multiplier" mapstructure:"noise_multiplier"`

	// Reproducibility
	RandomSeed int64 `json:"random_seed" mapstructure:"random_seed"`
}

// DefaultConfig returns the default synthesizer configuration.
func DefaultConfig() *Config {
	return &Config{
		Epochs:                    300,
		BatchSize:                 500,
		LearningRate:              2e-4,
		Beta1:                     0.5,
		Beta2:                     0.9,
		DiscriminatorSteps:        1,
		EmbeddingDim:              128,
		GeneratorDims:             []int{256, 256},
		DiscriminatorDims:         []int{256, 256},
		PacSize:                   10,
		GradientPenaltyWeight:     10.0,
		MaxMixtureComponents:      10,
		MixtureWeightFloor:        0.005,
		ConditionPolicy:           ConditionPolicyLogFrequency,
		EnableDifferentialPrivacy: false,
		PrivacyBudget:             0,
		PrivacyDelta:              1e-5,
		ClipNorm:                  1.0,
		NoiseMultiplier:           1.1,
		RandomSeed:                42,
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Epochs <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfiguration, "epochs must be positive")
	}
	if c.BatchSize <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidBatchSize, "batch size must be positive")
	}
	if c.PacSize <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfiguration, "pac size must be positive")
	}
	if c.BatchSize%c.PacSize != 0 {
		return errors.NewConfigurationError(errors.CodeInvalidBatchSize,
			fmt.Sprintf("batch size %d must be divisible by pac size %d", c.BatchSize, c.PacSize))
	}
	if c.EmbeddingDim <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidDimensions, "embedding dimension must be positive")
	}
	if len(c.GeneratorDims) == 0 || len(c.DiscriminatorDims) == 0 {
		return errors.NewConfigurationError(errors.CodeInvalidDimensions,
			"generator and discriminator must have at least one hidden layer")
	}
	for _, d := range c.GeneratorDims {
		if d <= 0 {
			return errors.NewConfigurationError(errors.CodeInvalidDimensions, "generator layer widths must be positive")
		}
	}
	for _, d := range c.DiscriminatorDims {
		if d <= 0 {
			return errors.NewConfigurationError(errors.CodeInvalidDimensions, "discriminator layer widths must be positive")
		}
	}
	if c.LearningRate <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfiguration, "learning rate must be positive")
	}
	if c.MaxMixtureComponents <= 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfiguration, "max mixture components must be positive")
	}

	switch c.ConditionPolicy {
	case ConditionPolicyLogFrequency, ConditionPolicyInverseFrequency, ConditionPolicyUniform:
	default:
		return errors.NewConfigurationError(errors.CodeInvalidConfiguration,
			fmt.Sprintf("unknown condition policy %q", c.ConditionPolicy))
	}

	if c.EnableDifferentialPrivacy {
		if c.PrivacyBudget <= 0 {
			return errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
				"privacy budget (epsilon) must be positive when differential privacy is enabled")
		}
		if c.PrivacyDelta <= 0 || c.PrivacyDelta >= 1 {
			return errors.NewConfigurationError(errors.CodeInvalidPrivacyParams,
				fmt.Sprintf("privacy delta must be in (0, 1), got %g", c.PrivacyDelta))
		}
		if c.ClipNorm <= 0 {
			return errors.NewConfigurationError(errors.CodeInvalidPrivacyParams, "clip norm must be positive")
		}
		if c.NoiseMultiplier <= 0 {
			return errors.NewConfigurationError(errors.CodeInvalidPrivacyParams, "noise multiplier must be positive")
		}
	}

	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.GeneratorDims = append([]int(nil), c.GeneratorDims...)
	out.DiscriminatorDims = append([]int(nil), c.DiscriminatorDims...)
	return &out
}

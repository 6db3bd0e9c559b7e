package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tabsynth/tabsynth/internal/train"
	"github.com/tabsynth/tabsynth/pkg/models"
)

type FitOptions struct {
	Input           string
	Model           string
	Discrete        []string
	Epochs          int
	BatchSize       int
	PacSize         int
	EmbeddingDim    int
	LearningRate    float64
	ConditionPolicy string
	Seed            int64
	Privacy         bool
	Epsilon         float64
	Delta           float64
	NoiseMultiplier float64
	ClipNorm        float64
}

func NewFitCmd() *cobra.Command {
	opts := &FitOptions{}

	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Train a tabular synthesizer on a CSV file",
		Long: `Train a conditional tabular GAN on a CSV file and write the fitted model
to a checkpoint file. Columns named with --discrete are treated as
categorical; all other columns must parse as floating-point numbers.`,
		Example: `  # Train on a census extract with two categorical columns
  tabsynth fit --input adult.csv --discrete workclass,education --model adult.model.json

  # Train with differential privacy
  tabsynth fit --input adult.csv --discrete workclass --privacy --epsilon 8 --model adult.model.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFit(opts)
		},
	}

	defaults := models.DefaultConfig()

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Input CSV file with a header row (required)")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "tabsynth.model.json", "Output checkpoint file")
	cmd.Flags().StringSliceVarP(&opts.Discrete, "discrete", "d", nil, "Comma-separated names of categorical columns")
	cmd.Flags().IntVar(&opts.Epochs, "epochs", defaults.Epochs, "Number of training epochs")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", defaults.BatchSize, "Minibatch size (must be a multiple of pac)")
	cmd.Flags().IntVar(&opts.PacSize, "pac", defaults.PacSize, "Samples packed per discriminator input")
	cmd.Flags().IntVar(&opts.EmbeddingDim, "embedding-dim", defaults.EmbeddingDim, "Generator noise dimension")
	cmd.Flags().Float64Var(&opts.LearningRate, "learning-rate", defaults.LearningRate, "Adam learning rate")
	cmd.Flags().StringVar(&opts.ConditionPolicy, "condition-policy", defaults.ConditionPolicy, "Category sampling policy (log-frequency, inverse-frequency, uniform)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", defaults.RandomSeed, "Random seed")
	cmd.Flags().BoolVar(&opts.Privacy, "privacy", false, "Enable differentially private training")
	cmd.Flags().Float64Var(&opts.Epsilon, "epsilon", defaults.PrivacyBudget, "Privacy budget (epsilon)")
	cmd.Flags().Float64Var(&opts.Delta, "delta", defaults.PrivacyDelta, "Privacy delta")
	cmd.Flags().Float64Var(&opts.NoiseMultiplier, "noise-multiplier", defaults.NoiseMultiplier, "Gaussian noise multiplier")
	cmd.Flags().Float64Var(&opts.ClipNorm, "clip-norm", defaults.ClipNorm, "Gradient clipping norm")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runFit(opts *FitOptions) error {
	logger := newLogger()

	config, err := configFromViper()
	if err != nil {
		return err
	}
	config.Epochs = opts.Epochs
	config.BatchSize = opts.BatchSize
	config.PacSize = opts.PacSize
	config.EmbeddingDim = opts.EmbeddingDim
	config.LearningRate = opts.LearningRate
	config.ConditionPolicy = opts.ConditionPolicy
	config.RandomSeed = opts.Seed
	config.EnableDifferentialPrivacy = opts.Privacy
	config.PrivacyBudget = opts.Epsilon
	config.PrivacyDelta = opts.Delta
	config.NoiseMultiplier = opts.NoiseMultiplier
	config.ClipNorm = opts.ClipNorm

	table, err := readCSVTable(opts.Input, opts.Discrete)
	if err != nil {
		return err
	}

	fmt.Printf("Training synthesizer...\n")
	fmt.Printf("Input: %s (%d rows, %d columns)\n", opts.Input, table.NumRows(), table.NumColumns())
	fmt.Printf("Discrete columns: %v\n", opts.Discrete)
	fmt.Printf("Epochs: %d, Batch Size: %d\n", config.Epochs, config.BatchSize)
	if config.EnableDifferentialPrivacy {
		fmt.Printf("Privacy: epsilon=%.2f delta=%.2e\n", config.PrivacyBudget, config.PrivacyDelta)
	}

	synth, err := train.New(config, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := synth.Fit(ctx, table, opts.Discrete); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if err := synth.Save(opts.Model); err != nil {
		return fmt.Errorf("saving model failed: %w", err)
	}

	fmt.Printf("Model saved to %s\n", opts.Model)
	if status := synth.BudgetStatus(); status != nil {
		fmt.Printf("Privacy budget consumed: %.4f of %.4f\n", status.ConsumedEpsilon, status.BudgetEpsilon)
	}
	return nil
}

// configFromViper starts from defaults and applies any training settings from
// the config file or TABSYNTH_* environment.
func configFromViper() (*models.Config, error) {
	config := models.DefaultConfig()
	if sub := viper.Sub("training"); sub != nil {
		if err := sub.Unmarshal(config); err != nil {
			return nil, fmt.Errorf("invalid training configuration: %w", err)
		}
	}
	return config, nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	if viper.GetBool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

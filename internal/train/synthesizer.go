package train

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/internal/gan"
	"github.com/tabsynth/tabsynth/internal/observability"
	"github.com/tabsynth/tabsynth/internal/privacy"
	"github.com/tabsynth/tabsynth/internal/sampling"
	"github.com/tabsynth/tabsynth/internal/transform"
	"github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// generationSeedOffset decorrelates the generation stream from the training
// stream so a reloaded checkpoint reproduces Generate without replaying
// training randomness.
const generationSeedOffset = 0x9E3779B9

// State is the synthesizer lifecycle. There is no transition back from
// StateFitted to StateFitting: refitting constructs a new instance.
type State int

const (
	StateUninitialized State = iota
	StateFitting
	StateFitted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFitting:
		return "fitting"
	case StateFitted:
		return "fitted"
	default:
		return "unknown"
	}
}

// EpochMetrics tracks per-epoch training progress.
type EpochMetrics struct {
	Epoch             int           `json:"epoch"`
	GeneratorLoss     float64       `json:"generator_loss"`
	DiscriminatorLoss float64       `json:"discriminator_loss"`
	ConditionalLoss   float64       `json:"conditional_loss"`
	Duration          time.Duration `json:"duration"`
}

// Synthesizer is the conditional tabular GAN: it owns the column transformer,
// the conditional data sampler, the generator/discriminator pair and all
// mutable optimizer state. Randomness is instance-local so concurrent
// instances never share or race on a random source.
type Synthesizer struct {
	id     string
	config *models.Config
	logger *logrus.Logger

	metrics *observability.TrainingMetrics

	mu    sync.Mutex
	state State

	rng    *rand.Rand // training stream
	genRNG *rand.Rand // generation stream, reseeded at fit end and on load

	transformer   *transform.Transformer
	sampler       *sampling.DataSampler
	condBuilder   *sampling.VectorBuilder
	generator     *gan.Generator
	discriminator *gan.Discriminator
	optG          *gan.AdamOptimizer
	optD          *gan.AdamOptimizer

	mechanism  *privacy.Mechanism
	accountant *privacy.BudgetAccountant

	dataWidth     int
	discSegments  []transform.Segment // segments of discrete columns, sampler order
	trainedEpochs int
	history       []EpochMetrics
}

// New creates an unfitted synthesizer.
func New(config *models.Config, logger *logrus.Logger) (*Synthesizer, error) {
	if config == nil {
		config = models.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Synthesizer{
		id:     uuid.New().String(),
		config: config.Clone(),
		logger: logger,
		state:  StateUninitialized,
		rng:    rand.New(rand.NewSource(config.RandomSeed)),
	}, nil
}

// WithMetrics attaches training metrics. Must be called before Fit.
func (s *Synthesizer) WithMetrics(m *observability.TrainingMetrics) *Synthesizer {
	s.metrics = m
	return s
}

// ID returns the model handle identifier.
func (s *Synthesizer) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Synthesizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the configuration.
func (s *Synthesizer) Config() *models.Config {
	return s.config.Clone()
}

// TrainingHistory returns a copy of the per-epoch metrics.
func (s *Synthesizer) TrainingHistory() []EpochMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]EpochMetrics(nil), s.history...)
}

// BudgetStatus returns privacy budget consumption, or nil when differential
// privacy is disabled.
func (s *Synthesizer) BudgetStatus() *privacy.BudgetStatus {
	if s.accountant == nil {
		return nil
	}
	status := s.accountant.Status()
	return &status
}

// Fit trains the synthesizer on the table. Columns named in discreteColumns
// are treated as categorical; all others as continuous. Fit is not idempotent
// and cannot be repeated: refitting requires a new instance. Cancellation via
// ctx is honored between epochs, never mid-step.
func (s *Synthesizer) Fit(ctx context.Context, table *models.Table, discreteColumns []string) error {
	s.mu.Lock()
	switch s.state {
	case StateFitting:
		s.mu.Unlock()
		return errors.NewAppError(errors.ErrorTypeTraining, errors.CodeAlreadyFitting,
			"model is already fitting")
	case StateFitted:
		s.mu.Unlock()
		return errors.NewAppError(errors.ErrorTypeTraining, errors.CodeAlreadyFitted,
			"model is already fitted; construct a new instance to refit")
	}
	s.state = StateFitting
	s.mu.Unlock()

	err := s.fit(ctx, table, discreteColumns)

	s.mu.Lock()
	if err != nil {
		// No partial model: a failed fit leaves the instance unusable.
		s.state = StateUninitialized
		s.generator = nil
		s.discriminator = nil
	} else {
		s.state = StateFitted
	}
	s.mu.Unlock()
	return err
}

func (s *Synthesizer) fit(ctx context.Context, table *models.Table, discreteColumns []string) error {
	start := time.Now()
	s.logger.WithFields(logrus.Fields{
		"model_id": s.id,
		"rows":     table.NumRows(),
		"columns":  table.NumColumns(),
		"discrete": len(discreteColumns),
		"epochs":   s.config.Epochs,
	}).Info("Starting synthesizer training")

	s.transformer = transform.NewTransformer(
		s.config.MaxMixtureComponents, s.config.MixtureWeightFloor, s.logger)
	if err := s.transformer.Fit(table, discreteColumns); err != nil {
		return err
	}

	data, err := s.transformer.Transform(table)
	if err != nil {
		return err
	}
	s.dataWidth = s.transformer.OutputWidth()

	s.sampler, err = sampling.NewDataSampler(data, s.transformer.Metadata())
	if err != nil {
		return err
	}
	s.condBuilder, err = sampling.NewVectorBuilder(s.sampler, s.config.ConditionPolicy)
	if err != nil {
		return err
	}
	s.discSegments = discreteSegments(s.transformer.Metadata())

	s.buildNetworks()

	if s.config.EnableDifferentialPrivacy {
		s.mechanism, err = privacy.NewMechanism(s.config.ClipNorm, s.config.NoiseMultiplier)
		if err != nil {
			return err
		}
		s.accountant, err = privacy.NewBudgetAccountant(s.config.PrivacyBudget, s.config.PrivacyDelta)
		if err != nil {
			return err
		}
	}

	if err := s.fitLoop(ctx, data); err != nil {
		return err
	}

	// Freeze: reseed the generation stream so Generate is reproducible from
	// the configured seed alone, before or after a checkpoint reload.
	s.genRNG = rand.New(rand.NewSource(s.config.RandomSeed + generationSeedOffset))

	s.logger.WithFields(logrus.Fields{
		"model_id": s.id,
		"duration": time.Since(start),
		"epochs":   s.trainedEpochs,
	}).Info("Synthesizer training completed")
	return nil
}

func (s *Synthesizer) buildNetworks() {
	condDim := s.condBuilder.Dim()
	segments := s.transformer.Metadata().Segments()

	s.generator = gan.NewGenerator(
		s.config.EmbeddingDim+condDim, s.config.GeneratorDims, segments, s.rng)
	s.discriminator = gan.NewDiscriminator(
		s.dataWidth, condDim, s.config.PacSize, s.config.DiscriminatorDims, s.rng)

	s.optG = gan.NewAdamOptimizer(s.config.LearningRate, s.config.Beta1, s.config.Beta2)
	s.optD = gan.NewAdamOptimizer(s.config.LearningRate, s.config.Beta1, s.config.Beta2)
}

// Generate draws n synthetic rows from the frozen generator, optionally
// forcing every row to a caller-supplied (column, category) condition.
// Generation runs in batch-size chunks to bound peak memory. The output
// schema matches the fit-time table exactly.
func (s *Synthesizer) Generate(ctx context.Context, n int, cond *sampling.Condition) (*models.Table, error) {
	if n <= 0 {
		return nil, errors.NewGenerationError(errors.CodeInvalidRowCount,
			fmt.Sprintf("requested row count must be positive, got %d", n))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFitted {
		return nil, errors.NewAppError(errors.ErrorTypeTraining, errors.CodeNotFitted,
			fmt.Sprintf("cannot generate in state %q", s.state))
	}

	out := mat.NewDense(n, s.dataWidth, nil)
	for offset := 0; offset < n; offset += s.config.BatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk := s.config.BatchSize
		if offset+chunk > n {
			chunk = n - offset
		}

		var batch *sampling.ConditionBatch
		if cond != nil {
			b, err := s.condBuilder.FixedCondition(cond, chunk)
			if err != nil {
				return nil, err
			}
			batch = b
		} else {
			batch = s.condBuilder.SampleGenerationConditions(s.genRNG, chunk)
		}

		noise := sampleNoise(s.genRNG, s.config.EmbeddingDim, chunk)
		fake := s.generator.Forward(vstack(noise, transposeCond(batch.Vectors)))

		for i := 0; i < chunk; i++ {
			for j := 0; j < s.dataWidth; j++ {
				out.Set(offset+i, j, fake.At(j, i))
			}
		}
	}

	table, err := s.transformer.InverseTransform(out)
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveGeneratedRows(n)
	s.logger.WithFields(logrus.Fields{
		"model_id": s.id,
		"rows":     n,
	}).Info("Generated synthetic rows")
	return table, nil
}

// discreteSegments returns segments of discrete columns in metadata order,
// which is also the sampler's column ordinal order.
func discreteSegments(meta *transform.Metadata) []transform.Segment {
	var out []transform.Segment
	for _, seg := range meta.Segments() {
		if seg.Kind == models.ColumnDiscrete {
			out = append(out, seg)
		}
	}
	return out
}

package train

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabsynth/tabsynth/internal/sampling"
	apperrors "github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

func testConfig() *models.Config {
	config := models.DefaultConfig()
	config.Epochs = 2
	config.BatchSize = 20
	config.PacSize = 2
	config.EmbeddingDim = 8
	config.GeneratorDims = []int{16}
	config.DiscriminatorDims = []int{16}
	config.MaxMixtureComponents = 2
	config.RandomSeed = 7
	return config
}

// trainingTable is 40 rows with a bimodal continuous column and a skewed
// categorical column: 24 retail, 12 corporate, 4 sme.
func trainingTable(t *testing.T) *models.Table {
	t.Helper()

	amounts := make([]float64, 40)
	segments := make([]string, 40)
	for i := range amounts {
		if i%2 == 0 {
			amounts[i] = 10 + float64(i%10)
		} else {
			amounts[i] = 500 + float64(i%10)
		}
		switch {
		case i%10 < 6:
			segments[i] = "retail"
		case i%10 < 9:
			segments[i] = "corporate"
		default:
			segments[i] = "sme"
		}
	}

	table, err := models.NewTable(
		models.NewFloatSeries("amount", amounts),
		models.NewStringSeries("segment", segments),
	)
	require.NoError(t, err)
	return table
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func fittedSynthesizer(t *testing.T, config *models.Config) *Synthesizer {
	t.Helper()
	synth, err := New(config, quietLogger())
	require.NoError(t, err)
	require.NoError(t, synth.Fit(context.Background(), trainingTable(t), []string{"segment"}))
	return synth
}

func assertTablesEqual(t *testing.T, a, b *models.Table) {
	t.Helper()
	require.Equal(t, a.ColumnNames(), b.ColumnNames())
	for i := 0; i < a.NumColumns(); i++ {
		ca, cb := a.ColumnAt(i), b.ColumnAt(i)
		assert.Equal(t, ca.Kind, cb.Kind)
		assert.Equal(t, ca.Floats, cb.Floats, "column %q", ca.Name)
		assert.Equal(t, ca.Strings, cb.Strings, "column %q", ca.Name)
	}
}

func TestFitAndGenerate(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())
	assert.Equal(t, StateFitted, synth.State())
	assert.Len(t, synth.TrainingHistory(), 2)

	out, err := synth.Generate(context.Background(), 25, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, out.NumRows())
	assert.Equal(t, []string{"amount", "segment"}, out.ColumnNames())

	vocab := map[string]bool{"retail": true, "corporate": true, "sme": true}
	segment, _ := out.Column("segment")
	for _, v := range segment.Strings {
		assert.True(t, vocab[v], "generated unknown category %q", v)
	}

	amount, _ := out.Column("amount")
	for _, v := range amount.Floats {
		assert.True(t, isFinite(v))
	}
}

func TestGenerateBeforeFit(t *testing.T) {
	synth, err := New(testConfig(), quietLogger())
	require.NoError(t, err)

	_, err = synth.Generate(context.Background(), 10, nil)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeNotFitted, appErr.Code)
}

func TestGenerateRejectsNonPositiveCount(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())

	_, err := synth.Generate(context.Background(), 0, nil)
	assert.Error(t, err)
	_, err = synth.Generate(context.Background(), -5, nil)
	assert.Error(t, err)
}

func TestRefitRejected(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())

	err := synth.Fit(context.Background(), trainingTable(t), []string{"segment"})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeAlreadyFitted, appErr.Code)
}

func TestFailedFitResetsState(t *testing.T) {
	synth, err := New(testConfig(), quietLogger())
	require.NoError(t, err)

	// Unknown discrete column name fails before training starts.
	err = synth.Fit(context.Background(), trainingTable(t), []string{"region"})
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, synth.State())

	_, err = synth.Generate(context.Background(), 5, nil)
	assert.Error(t, err)
}

func TestFitHonorsCancellation(t *testing.T) {
	synth, err := New(testConfig(), quietLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = synth.Fit(ctx, trainingTable(t), []string{"segment"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateUninitialized, synth.State())
}

func TestDeterministicTraining(t *testing.T) {
	a := fittedSynthesizer(t, testConfig())
	b := fittedSynthesizer(t, testConfig())

	outA, err := a.Generate(context.Background(), 15, nil)
	require.NoError(t, err)
	outB, err := b.Generate(context.Background(), 15, nil)
	require.NoError(t, err)

	assertTablesEqual(t, outA, outB)
}

func TestGenerateWithFixedCondition(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())

	out, err := synth.Generate(context.Background(), 10,
		&sampling.Condition{Column: "segment", Value: "sme"})
	require.NoError(t, err)
	assert.Equal(t, 10, out.NumRows())

	_, err = synth.Generate(context.Background(), 10,
		&sampling.Condition{Column: "segment", Value: "household"})
	assert.True(t, errors.Is(err, apperrors.ErrUnknownCategory))

	_, err = synth.Generate(context.Background(), 10,
		&sampling.Condition{Column: "amount", Value: "10"})
	assert.True(t, errors.Is(err, apperrors.ErrSchemaMismatch))
}

func TestPrivacyBudgetExhaustion(t *testing.T) {
	config := testConfig()
	config.Epochs = 10
	config.EnableDifferentialPrivacy = true
	config.PrivacyBudget = 20 // roughly two epochs at the default noise level
	config.PrivacyDelta = 1e-5

	synth, err := New(config, quietLogger())
	require.NoError(t, err)

	err = synth.Fit(context.Background(), trainingTable(t), []string{"segment"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrPrivacyBudgetExhausted))
	assert.Equal(t, StateUninitialized, synth.State())
}

func TestPrivacyFitWithinBudget(t *testing.T) {
	config := testConfig()
	config.EnableDifferentialPrivacy = true
	config.PrivacyBudget = 100
	config.PrivacyDelta = 1e-5

	synth, err := New(config, quietLogger())
	require.NoError(t, err)
	require.NoError(t, synth.Fit(context.Background(), trainingTable(t), []string{"segment"}))

	status := synth.BudgetStatus()
	require.NotNil(t, status)
	assert.Greater(t, status.ConsumedEpsilon, 0.0)
	assert.LessOrEqual(t, status.ConsumedEpsilon, status.BudgetEpsilon)
}

func TestBudgetStatusNilWithoutPrivacy(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())
	assert.Nil(t, synth.BudgetStatus())
}

func TestCheckpointRoundTrip(t *testing.T) {
	synth := fittedSynthesizer(t, testConfig())

	fresh, err := synth.Generate(context.Background(), 12, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, synth.Save(path))

	loaded, err := Load(path, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, synth.ID(), loaded.ID())
	assert.Equal(t, StateFitted, loaded.State())

	restored, err := loaded.Generate(context.Background(), 12, nil)
	require.NoError(t, err)
	assertTablesEqual(t, fresh, restored)
}

func TestSaveRequiresFittedModel(t *testing.T) {
	synth, err := New(testConfig(), quietLogger())
	require.NoError(t, err)

	err = synth.Save(filepath.Join(t.TempDir(), "model.json"))
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeNotFitted, appErr.Code)
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, quietLogger())
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.CodeCheckpointCorrupt, appErr.Code)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), quietLogger())
	assert.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	config := testConfig()
	config.BatchSize = 21 // not divisible by pac
	_, err := New(config, quietLogger())
	assert.Error(t, err)
}

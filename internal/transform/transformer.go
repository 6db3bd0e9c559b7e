package transform

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// normalizationSpread is the number of standard deviations mapped onto the
// [-1, 1] normalized range around a component mean.
const normalizationSpread = 4.0

// Transformer learns a per-column encoding and applies or inverts it.
// Continuous columns use mode-specific normalization against a fitted Gaussian
// mixture; discrete columns use a one-hot over the fit-time category set.
// Fit is non-reentrant; a fitted Transformer is safe for concurrent reads.
type Transformer struct {
	logger        *logrus.Logger
	maxComponents int
	weightFloor   float64

	meta   *Metadata
	fitted bool
}

// NewTransformer creates a column transformer.
func NewTransformer(maxComponents int, weightFloor float64, logger *logrus.Logger) *Transformer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transformer{
		logger:        logger,
		maxComponents: maxComponents,
		weightFloor:   weightFloor,
	}
}

// Fit computes column metadata for the table. Columns named in discreteColumns
// are encoded as one-hot categories; all others are treated as continuous.
func (t *Transformer) Fit(table *models.Table, discreteColumns []string) error {
	if t.fitted {
		return errors.NewAppError(errors.ErrorTypeTraining, errors.CodeAlreadyFitted,
			"transformer is already fitted; construct a new instance to refit")
	}

	discrete := make(map[string]bool, len(discreteColumns))
	for _, name := range discreteColumns {
		if !table.HasColumn(name) {
			return errors.NewSchemaMismatchError(name,
				fmt.Sprintf("discrete column %q not present in table", name))
		}
		discrete[name] = true
	}

	columns := make([]ColumnMeta, table.NumColumns())
	for i := 0; i < table.NumColumns(); i++ {
		col := table.ColumnAt(i)
		if discrete[col.Name] {
			meta, err := fitDiscrete(col)
			if err != nil {
				return err
			}
			columns[i] = meta
			continue
		}
		meta, err := t.fitContinuous(col)
		if err != nil {
			return err
		}
		columns[i] = meta
	}

	t.meta = newMetadata(columns)
	t.fitted = true

	t.logger.WithFields(logrus.Fields{
		"columns":         table.NumColumns(),
		"discrete":        len(discreteColumns),
		"transformed_dim": t.meta.Width(),
	}).Info("Column transformer fitted")

	return nil
}

func (t *Transformer) fitContinuous(col *models.Series) (ColumnMeta, error) {
	if col.Kind != models.ColumnContinuous {
		return ColumnMeta{}, errors.NewAppError(errors.ErrorTypeSchema, errors.CodeColumnKind,
			fmt.Sprintf("column %q holds categorical values but was not listed as discrete", col.Name)).
			WithContext("column", col.Name)
	}

	mix, err := FitGaussianMixture(col.Floats, t.maxComponents, t.weightFloor)
	if err != nil {
		return ColumnMeta{}, errors.WrapError(err, errors.ErrorTypeSchema, errors.CodeInsufficientData,
			fmt.Sprintf("fitting mixture for column %q", col.Name))
	}

	components := make([]ComponentParams, mix.NumComponents())
	for k := range components {
		components[k] = ComponentParams{
			Weight: mix.Weights[k],
			Mean:   mix.Means[k],
			Stddev: mix.Stddevs[k],
		}
	}
	return ColumnMeta{Name: col.Name, Kind: models.ColumnContinuous, Components: components}, nil
}

func fitDiscrete(col *models.Series) (ColumnMeta, error) {
	if col.Kind != models.ColumnDiscrete {
		return ColumnMeta{}, errors.NewAppError(errors.ErrorTypeSchema, errors.CodeColumnKind,
			fmt.Sprintf("column %q listed as discrete but holds continuous values", col.Name)).
			WithContext("column", col.Name)
	}

	seen := make(map[string]bool)
	var categories []string
	for _, v := range col.Strings {
		if !seen[v] {
			seen[v] = true
			categories = append(categories, v)
		}
	}
	return ColumnMeta{Name: col.Name, Kind: models.ColumnDiscrete, Categories: categories}, nil
}

// Metadata returns the fit-time column metadata.
func (t *Transformer) Metadata() *Metadata {
	return t.meta
}

// OutputWidth returns the fixed length of a transformed row.
func (t *Transformer) OutputWidth() int {
	if !t.fitted {
		return 0
	}
	return t.meta.Width()
}

// IsFitted reports whether Fit has completed.
func (t *Transformer) IsFitted() bool {
	return t.fitted
}

// Transform encodes the table into a rows x width matrix using fit-time
// metadata. The table must carry exactly the fit-time columns.
func (t *Transformer) Transform(table *models.Table) (*mat.Dense, error) {
	if !t.fitted {
		return nil, errors.NewAppError(errors.ErrorTypeTraining, errors.CodeNotFitted,
			"transformer must be fitted before transform")
	}
	if err := t.checkSchema(table); err != nil {
		return nil, err
	}

	rows := table.NumRows()
	out := mat.NewDense(rows, t.meta.Width(), nil)

	for ci, seg := range t.meta.Segments() {
		col, _ := table.Column(seg.Column)
		meta := &t.meta.Columns[ci]

		if seg.Kind == models.ColumnDiscrete {
			for r, v := range col.Strings {
				j, ok := t.meta.CategoryIndex(ci, v)
				if !ok {
					return nil, errors.NewUnknownCategoryError(seg.Column, r, v)
				}
				out.Set(r, seg.Offset+j, 1)
			}
			continue
		}

		for r, v := range col.Floats {
			k := mostProbableComponent(meta.Components, v)
			c := meta.Components[k]
			norm := (v - c.Mean) / (normalizationSpread * c.Stddev)
			out.Set(r, seg.Offset, clamp(norm, -1, 1))
			out.Set(r, seg.Offset+1+k, 1)
		}
	}

	return out, nil
}

// InverseTransform decodes a transformed matrix back into the original column
// domains. Continuous values are denormalized against the component selected
// by the one-hot indicator; discrete values take the argmax category with ties
// broken by lowest index.
func (t *Transformer) InverseTransform(m *mat.Dense) (*models.Table, error) {
	if !t.fitted {
		return nil, errors.NewAppError(errors.ErrorTypeTraining, errors.CodeNotFitted,
			"transformer must be fitted before inverse transform")
	}

	rows, width := m.Dims()
	if width != t.meta.Width() {
		return nil, errors.NewInternalError(
			fmt.Sprintf("matrix width %d does not match transformed width %d", width, t.meta.Width()))
	}

	columns := make([]models.Series, len(t.meta.Columns))
	for ci, seg := range t.meta.Segments() {
		meta := &t.meta.Columns[ci]

		if seg.Kind == models.ColumnDiscrete {
			values := make([]string, rows)
			for r := 0; r < rows; r++ {
				j := argmaxRow(m, r, seg.Offset, seg.OneHotWidth)
				values[r] = meta.Categories[j]
			}
			columns[ci] = models.NewStringSeries(seg.Column, values)
			continue
		}

		values := make([]float64, rows)
		for r := 0; r < rows; r++ {
			k := argmaxRow(m, r, seg.Offset+1, seg.OneHotWidth)
			c := meta.Components[k]
			scalar := clamp(m.At(r, seg.Offset), -1, 1)
			values[r] = scalar*normalizationSpread*c.Stddev + c.Mean
		}
		columns[ci] = models.NewFloatSeries(seg.Column, values)
	}

	return models.NewTable(columns...)
}

// checkSchema verifies the transform-time table against fit-time metadata.
func (t *Transformer) checkSchema(table *models.Table) error {
	for i := range t.meta.Columns {
		name := t.meta.Columns[i].Name
		col, ok := table.Column(name)
		if !ok {
			return errors.NewSchemaMismatchError(name,
				fmt.Sprintf("column %q present at fit time is missing", name)).
				WithDetails(errors.CodeMissingColumn)
		}
		if col.Kind != t.meta.Columns[i].Kind {
			return errors.NewAppError(errors.ErrorTypeSchema, errors.CodeColumnKind,
				fmt.Sprintf("column %q kind %q does not match fit-time kind %q",
					name, col.Kind, t.meta.Columns[i].Kind)).WithContext("column", name)
		}
	}
	for _, name := range table.ColumnNames() {
		if _, ok := t.meta.ColumnIndex(name); !ok {
			return errors.NewSchemaMismatchError(name,
				fmt.Sprintf("column %q was not present at fit time", name)).
				WithDetails(errors.CodeUnexpectedColumn)
		}
	}
	return nil
}

// RestoreTransformer rebuilds a fitted transformer from checkpointed metadata.
func RestoreTransformer(meta *Metadata, logger *logrus.Logger) *Transformer {
	if logger == nil {
		logger = logrus.New()
	}
	meta.buildIndex()
	return &Transformer{logger: logger, meta: meta, fitted: true}
}

// mostProbableComponent returns the component with the highest weighted
// density at v, ties to the lowest index.
func mostProbableComponent(components []ComponentParams, v float64) int {
	best := 0
	bestScore := math.Inf(-1)
	for k, c := range components {
		n := distuv.Normal{Mu: c.Mean, Sigma: c.Stddev}
		score := c.Weight * n.Prob(v)
		if score > bestScore {
			bestScore = score
			best = k
		}
	}
	return best
}

// argmaxRow returns the offset of the largest value in m[row, start:start+width],
// relative to start. Ties break to the lowest index.
func argmaxRow(m *mat.Dense, row, start, width int) int {
	best := 0
	bestVal := m.At(row, start)
	for j := 1; j < width; j++ {
		if v := m.At(row, start+j); v > bestVal {
			bestVal = v
			best = j
		}
	}
	return best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

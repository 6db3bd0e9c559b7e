package train

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/tabsynth/tabsynth/internal/sampling"
	"github.com/tabsynth/tabsynth/internal/transform"
	"github.com/tabsynth/tabsynth/pkg/errors"
	"github.com/tabsynth/tabsynth/pkg/models"
)

// checkpointVersion guards the on-disk format.
const checkpointVersion = 1

// matrixState is a flattened parameter matrix.
type matrixState struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// checkpoint is the serialized form of a fitted synthesizer. It carries the
// column metadata and category frequencies needed to rebuild the transformer
// and the generation-time conditional sampler, plus both networks' weights.
// Optimizer moments are not saved: a loaded model generates, it does not
// resume training.
type checkpoint struct {
	Version       int                 `json:"version"`
	ModelID       string              `json:"model_id"`
	Config        *models.Config      `json:"config"`
	Metadata      *transform.Metadata `json:"metadata"`
	NumRows       int                 `json:"num_rows"`
	Frequencies   [][]int             `json:"frequencies"`
	TrainedEpochs int                 `json:"trained_epochs"`
	History       []EpochMetrics      `json:"history"`
	Generator     []matrixState       `json:"generator"`
	Discriminator []matrixState       `json:"discriminator"`
}

// Save writes the fitted model to path as JSON.
func (s *Synthesizer) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFitted {
		return errors.NewAppError(errors.ErrorTypeTraining, errors.CodeNotFitted,
			fmt.Sprintf("cannot save in state %q", s.state))
	}

	cp := checkpoint{
		Version:       checkpointVersion,
		ModelID:       s.id,
		Config:        s.config,
		Metadata:      s.transformer.Metadata(),
		NumRows:       s.sampler.NumRows(),
		Frequencies:   s.sampler.Frequencies(),
		TrainedEpochs: s.trainedEpochs,
		History:       s.history,
		Generator:     flattenParams(s.generator.Params()),
		Discriminator: flattenParams(s.discriminator.Params()),
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.NewCheckpointError("failed to encode checkpoint", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewCheckpointError("failed to write checkpoint file", err)
	}

	s.logger.WithFields(logrus.Fields{
		"model_id": s.id,
		"path":     path,
		"epochs":   s.trainedEpochs,
	}).Info("Checkpoint saved")
	return nil
}

// Load restores a fitted synthesizer from a checkpoint file. The restored
// model supports Generate only; Fit on it returns the already-fitted error.
func Load(path string, logger *logrus.Logger) (*Synthesizer, error) {
	if logger == nil {
		logger = logrus.New()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewCheckpointError("failed to read checkpoint file", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.NewCheckpointError("failed to decode checkpoint", err)
	}
	if cp.Version != checkpointVersion {
		return nil, errors.NewCheckpointError(
			fmt.Sprintf("unsupported checkpoint version %d", cp.Version), nil)
	}
	if cp.Config == nil || cp.Metadata == nil {
		return nil, errors.NewCheckpointError("checkpoint is missing config or metadata", nil)
	}
	if err := cp.Config.Validate(); err != nil {
		return nil, errors.NewCheckpointError("checkpoint carries an invalid configuration", err)
	}

	s := &Synthesizer{
		id:            cp.ModelID,
		config:        cp.Config,
		logger:        logger,
		state:         StateFitted,
		rng:           rand.New(rand.NewSource(cp.Config.RandomSeed)),
		trainedEpochs: cp.TrainedEpochs,
		history:       cp.History,
	}

	s.transformer = transform.RestoreTransformer(cp.Metadata, logger)
	s.dataWidth = s.transformer.OutputWidth()
	s.sampler = sampling.RestoreDataSampler(cp.Metadata, cp.NumRows, cp.Frequencies)
	s.condBuilder, err = sampling.NewVectorBuilder(s.sampler, cp.Config.ConditionPolicy)
	if err != nil {
		return nil, errors.NewCheckpointError("failed to rebuild conditional sampler", err)
	}
	s.discSegments = discreteSegments(cp.Metadata)

	s.buildNetworks()
	if err := restoreParams(s.generator.Params(), cp.Generator); err != nil {
		return nil, errors.NewCheckpointError("generator weights do not match configuration", err)
	}
	if err := restoreParams(s.discriminator.Params(), cp.Discriminator); err != nil {
		return nil, errors.NewCheckpointError("discriminator weights do not match configuration", err)
	}

	s.genRNG = rand.New(rand.NewSource(cp.Config.RandomSeed + generationSeedOffset))

	logger.WithFields(logrus.Fields{
		"model_id": s.id,
		"path":     path,
		"epochs":   s.trainedEpochs,
	}).Info("Checkpoint loaded")
	return s, nil
}

func flattenParams(params []*mat.Dense) []matrixState {
	out := make([]matrixState, len(params))
	for i, p := range params {
		rows, cols := p.Dims()
		st := matrixState{Rows: rows, Cols: cols, Data: make([]float64, 0, rows*cols)}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				st.Data = append(st.Data, p.At(r, c))
			}
		}
		out[i] = st
	}
	return out
}

func restoreParams(params []*mat.Dense, states []matrixState) error {
	if len(params) != len(states) {
		return fmt.Errorf("expected %d parameter matrices, checkpoint has %d", len(params), len(states))
	}
	for i, st := range states {
		rows, cols := params[i].Dims()
		if st.Rows != rows || st.Cols != cols || len(st.Data) != rows*cols {
			return fmt.Errorf("parameter %d: expected %dx%d, checkpoint has %dx%d", i, rows, cols, st.Rows, st.Cols)
		}
		k := 0
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				params[i].Set(r, c, st.Data[k])
				k++
			}
		}
	}
	return nil
}

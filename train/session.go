package train

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/algorithms/common"
	"github.com/RyanBlaney/braincoder/algorithms/stats"
	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/dataset"
	"github.com/RyanBlaney/braincoder/logging"
	"github.com/RyanBlaney/braincoder/models"
	"github.com/RyanBlaney/braincoder/progress"
)

// ErrNoSamples reports a dataset with nothing to train on
var ErrNoSamples = errors.New("no training samples")

// EpochResult summarises one call to Step
type EpochResult struct {
	Epoch      int
	Train      LossValue
	Valid      *LossValue // nil when validation did not run or failed
	Checkpoint string
	Duration   time.Duration
}

// Session owns everything one training run needs: the model, its optimiser,
// the data loaders and the epoch counter
type Session struct {
	cfg       config.ExperimentConfig
	model     models.Model
	optimizer *Adam
	loss      Loss
	shape     dataset.InputShape

	train    *dataset.Loader
	valid    *dataset.Loader
	previews []dataset.Sample

	runID   string
	epoch   int
	samples int
	logger  logging.Logger
}

// NewSession loads the dataset manifest and cached embeddings, splits them,
// and builds the named model and its optimiser
func NewSession(cfg *config.Config, modelName string) (*Session, error) {
	model, err := models.New(modelName, cfg.Model)
	if err != nil {
		return nil, err
	}

	records, err := dataset.ReadManifest(cfg.Exp.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	samples, missing, err := dataset.LoadTargets(records, cfg.Exp.CacheDir, cfg.Model.OutputDim)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	if missing > 0 {
		logging.Warn("Records without cached embeddings were excluded", logging.Fields{
			"excluded": missing,
			"kept":     len(samples),
		})
	}

	trainSet, validSet := dataset.Split(samples, cfg.Exp.ValidRatio, cfg.Exp.Seed)
	return newSession(cfg, model, trainSet, validSet)
}

func newSession(cfg *config.Config, model models.Model, trainSet, validSet []dataset.Sample) (*Session, error) {
	if len(trainSet) == 0 {
		return nil, ErrNoSamples
	}

	optimizer, err := NewAdam(model.ParameterGroups(), cfg.Exp.LearningRate, cfg.Exp.Betas)
	if err != nil {
		return nil, err
	}

	shape := dataset.InputShape{
		Channels: cfg.Model.InputChannels,
		Height:   cfg.Model.InputHeight,
		Width:    cfg.Model.InputWidth,
	}
	exp := cfg.Exp
	runID := uuid.NewString()

	s := &Session{
		cfg:       exp,
		model:     model,
		optimizer: optimizer,
		loss:      Loss{Alpha: exp.Alpha},
		shape:     shape,
		train:     dataset.NewLoader(trainSet, shape, exp.BatchSize, exp.NumWorkers, true, exp.Seed),
		valid:     dataset.NewLoader(validSet, shape, exp.BatchSize, exp.NumWorkers, false, exp.Seed),
		previews:  validSet[:min(max(exp.NumToSamples, 0), len(validSet))],
		runID:     runID,
		logger: logging.WithFields(logging.Fields{
			"component": "trainer",
			"model":     model.Name(),
			"run_id":    runID,
		}),
	}

	s.logger.Info("Training session ready", logging.Fields{
		"train_samples": len(trainSet),
		"valid_samples": len(validSet),
		"batch_size":    exp.BatchSize,
		"epochs":        exp.Epochs,
	})
	return s, nil
}

// Model is the model being trained
func (s *Session) Model() models.Model { return s.model }

// RunID identifies this run in checkpoints and logs
func (s *Session) RunID() string { return s.runID }

// Epoch is the index of the next epoch Step will run
func (s *Session) Epoch() int { return s.epoch }

// Run calls Step until the configured number of epochs is reached
func (s *Session) Run(ctx context.Context) ([]EpochResult, error) {
	start := time.Now()
	var results []EpochResult

	for s.epoch < s.cfg.Epochs {
		res, err := s.Step(ctx)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}

	s.logger.Info("Training complete", logging.Fields{
		"epochs":   humanize.Comma(int64(len(results))),
		"steps":    humanize.Comma(int64(s.optimizer.Steps())),
		"samples":  humanize.Comma(int64(s.samples)),
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	return results, nil
}

// Step runs one epoch: a training pass, a validation pass when the epoch
// falls on the validation cadence, sample previews and a checkpoint.
// Validation failures are logged and do not stop training.
func (s *Session) Step(ctx context.Context) (*EpochResult, error) {
	start := time.Now()
	res := &EpochResult{Epoch: s.epoch}
	logger := s.logger.WithFields(logging.Fields{"epoch": s.epoch})

	trainLoss, err := s.trainPass(ctx)
	if err != nil {
		return nil, fmt.Errorf("epoch %d: train: %w", s.epoch, err)
	}
	res.Train = trainLoss

	if s.validationDue() {
		validLoss, err := s.evaluate(ctx, s.valid)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error(err, "Validation failed", logging.Fields{"train_loss": trainLoss.Total})
		} else {
			res.Valid = &validLoss
		}
	}

	if err := s.writePreviews(); err != nil {
		logger.Warn("Could not write sample predictions", logging.Fields{"error": err.Error()})
	}

	var validTotal *float64
	if res.Valid != nil {
		validTotal = &res.Valid.Total
	}
	res.Checkpoint, err = s.Checkpoint(trainLoss.Total, validTotal)
	if err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	fields := logging.Fields{
		"train_loss": trainLoss.Total,
		"train_mse":  trainLoss.MSE,
		"train_kl":   trainLoss.KL,
		"duration":   res.Duration.Round(time.Millisecond).String(),
	}
	if res.Valid != nil {
		fields["valid_loss"] = res.Valid.Total
	}
	logger.Info("Epoch complete", fields)

	s.epoch++
	return res, nil
}

// Checkpoint writes the current parameters for the current epoch and
// returns the file path
func (s *Session) Checkpoint(trainLoss float64, validLoss *float64) (string, error) {
	path := CheckpointPath(s.cfg.CheckpointDir, s.epoch)
	ckpt := NewCheckpoint(s.model, s.epoch, s.runID, trainLoss, validLoss)
	if err := ckpt.Save(path); err != nil {
		return "", err
	}
	s.logger.Debug("Checkpoint saved", logging.Fields{"path": path})
	return path, nil
}

func (s *Session) validationDue() bool {
	term := max(s.cfg.ValidTerm, 1)
	return s.valid.Samples() > 0 && (s.epoch+1)%term == 0
}

func (s *Session) trainPass(ctx context.Context) (LossValue, error) {
	bar := progress.New(s.cfg.Progress, "epoch "+strconv.Itoa(s.epoch), s.train.Len())
	defer bar.Done()

	var sum LossValue
	n := 0
	err := s.train.Iterate(ctx, func(b *dataset.Batch) error {
		models.ZeroGrad(s.model)
		pred := s.model.Forward(b.X)

		lv, err := s.loss.Evaluate(pred, b.Y)
		if err != nil {
			return err
		}
		grad, err := s.loss.Gradient(pred, b.Y)
		if err != nil {
			return err
		}
		s.model.Backward(grad)
		s.optimizer.Step()

		accumulate(&sum, lv, b.Size())
		n += b.Size()
		bar.Increment()
		return nil
	})
	if err != nil {
		return LossValue{}, err
	}

	s.samples += n
	return mean(sum, n), nil
}

func (s *Session) evaluate(ctx context.Context, loader *dataset.Loader) (LossValue, error) {
	var sum LossValue
	n := 0
	err := loader.Iterate(ctx, func(b *dataset.Batch) error {
		lv, err := s.loss.Evaluate(s.model.Forward(b.X), b.Y)
		if err != nil {
			return err
		}
		accumulate(&sum, lv, b.Size())
		n += b.Size()
		return nil
	})
	if err != nil {
		return LossValue{}, err
	}
	return mean(sum, n), nil
}

// preview is the per-sample prediction written for the downstream image
// generator
type preview struct {
	ID        string             `json:"id"`
	Caption   string             `json:"caption,omitempty"`
	Epoch     int                `json:"epoch"`
	RunID     string             `json:"run_id"`
	Embedding []float64          `json:"embedding"`
	Metrics   map[string]float64 `json:"metrics"`
}

// previewMetrics compare a target embedding with its prediction
var previewMetrics = map[string]stats.DistanceFunction{
	"mse": stats.MeanSquaredError,
	"kl": func(target, pred []float64) float64 {
		return stats.KLDivergenceFunc(common.Softmax(target), common.Softmax(pred))
	},
}

// writePreviews stores the predicted embeddings of the preview samples
// under {image_dir}/{epoch}/{id}.json
func (s *Session) writePreviews() error {
	if len(s.previews) == 0 {
		return nil
	}

	x := mat.NewDense(len(s.previews), s.shape.Dim(), nil)
	for i, sample := range s.previews {
		input, err := dataset.LoadInput(sample.Record, s.shape)
		if err != nil {
			return err
		}
		x.SetRow(i, input)
	}
	pred := s.model.Forward(x)

	dir := filepath.Join(s.cfg.ImageDir, strconv.Itoa(s.epoch))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for i, sample := range s.previews {
		embedding := mat.Row(nil, i, pred)
		metrics := make(map[string]float64, len(previewMetrics))
		for name, fn := range previewMetrics {
			metrics[name] = fn(sample.Target, embedding)
		}

		data, err := json.Marshal(preview{
			ID:        sample.Record.ID(),
			Caption:   sample.Record.Caption(),
			Epoch:     s.epoch,
			RunID:     s.runID,
			Embedding: embedding,
			Metrics:   metrics,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, sample.Record.ID()+".json"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func accumulate(sum *LossValue, v LossValue, weight int) {
	w := float64(weight)
	sum.Total += v.Total * w
	sum.MSE += v.MSE * w
	sum.KL += v.KL * w
}

func mean(sum LossValue, n int) LossValue {
	if n == 0 {
		return LossValue{}
	}
	d := float64(n)
	return LossValue{Total: sum.Total / d, MSE: sum.MSE / d, KL: sum.KL / d}
}

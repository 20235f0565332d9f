package train

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/dataset"
	"github.com/RyanBlaney/braincoder/logging"
	"github.com/RyanBlaney/braincoder/models"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

func TestLossIsZeroForPerfectPrediction(t *testing.T) {
	y := randomDense(rand.New(rand.NewSource(1)), 3, 5)
	for _, alpha := range []float64{0, 0.5, 1} {
		lv, err := Loss{Alpha: alpha}.Evaluate(y, y)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(lv.Total) > 1e-12 || math.Abs(lv.MSE) > 1e-12 || math.Abs(lv.KL) > 1e-12 {
			t.Errorf("alpha %v: loss %+v, want 0", alpha, lv)
		}
	}
}

func TestLossBlendsTerms(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	pred, target := randomDense(rng, 4, 6), randomDense(rng, 4, 6)

	mse, _ := Loss{Alpha: 1}.Evaluate(pred, target)
	kl, _ := Loss{Alpha: 0}.Evaluate(pred, target)
	mixed, _ := Loss{Alpha: 0.3}.Evaluate(pred, target)

	if mse.KL <= 0 || mse.Total != mse.MSE || kl.Total != kl.KL {
		t.Fatalf("pure terms: mse=%+v kl=%+v", mse, kl)
	}
	want := 0.3*mse.MSE + 0.7*kl.KL
	if math.Abs(mixed.Total-want) > 1e-12 {
		t.Errorf("mixed = %v, want %v", mixed.Total, want)
	}

	if _, err := (Loss{}).Evaluate(pred, mat.NewDense(4, 5, nil)); err == nil {
		t.Error("expected shape error")
	}
}

func TestLossGradientMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pred, target := randomDense(rng, 3, 4), randomDense(rng, 3, 4)
	loss := Loss{Alpha: 0.4}

	grad, err := loss.Gradient(pred, target)
	if err != nil {
		t.Fatal(err)
	}

	const eps = 1e-6
	raw := pred.RawMatrix().Data
	for i := range raw {
		orig := raw[i]
		raw[i] = orig + eps
		up, _ := loss.Evaluate(pred, target)
		raw[i] = orig - eps
		down, _ := loss.Evaluate(pred, target)
		raw[i] = orig

		numeric := (up.Total - down.Total) / (2 * eps)
		if got := grad.RawMatrix().Data[i]; math.Abs(got-numeric) > 1e-6 {
			t.Fatalf("element %d: analytic %v, numeric %v", i, got, numeric)
		}
	}
}

func TestAdamReducesLossOnLinearProblem(t *testing.T) {
	cfg := config.DefaultModelConfig()
	cfg.InputChannels, cfg.InputHeight, cfg.InputWidth = 1, 2, 2
	cfg.OutputDim = 3
	model, err := models.NewLinear(cfg)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(5))
	x := randomDense(rng, 16, 4)
	truth := randomDense(rng, 4, 3)
	var y mat.Dense
	y.Mul(x, truth)

	opt, err := NewAdam(model.ParameterGroups(), 0.05, []float64{0.9, 0.999})
	if err != nil {
		t.Fatal(err)
	}
	loss := Loss{Alpha: 1}

	first, _ := loss.Evaluate(model.Forward(x), &y)
	for range 300 {
		models.ZeroGrad(model)
		pred := model.Forward(x)
		grad, _ := loss.Gradient(pred, &y)
		model.Backward(grad)
		opt.Step()
	}
	last, _ := loss.Evaluate(model.Forward(x), &y)

	if last.Total >= first.Total*0.05 {
		t.Errorf("loss went from %v to %v, want at least a 20x reduction", first.Total, last.Total)
	}
	if opt.Steps() != 300 {
		t.Errorf("Steps = %d", opt.Steps())
	}

	if _, err := NewAdam(model.ParameterGroups(), 0.1, []float64{0.9}); err == nil {
		t.Error("expected error for a single beta")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := config.DefaultModelConfig()
	cfg.InputChannels, cfg.InputHeight, cfg.InputWidth = 1, 3, 3
	cfg.OutputDim, cfg.HiddenDim = 4, 5
	src, err := models.NewMLP(cfg)
	if err != nil {
		t.Fatal(err)
	}

	valid := 0.25
	path := CheckpointPath(filepath.Join(t.TempDir(), "ckpt"), 3)
	if filepath.Base(path) != "3.ckpt" {
		t.Fatalf("CheckpointPath = %s", path)
	}
	if err := NewCheckpoint(src, 3, "run-1", 0.5, &valid).Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if ckpt.Epoch != 3 || ckpt.RunID != "run-1" || ckpt.Model != "mlp" || *ckpt.ValidLoss != 0.25 {
		t.Errorf("metadata = %+v", ckpt)
	}

	cfg.Seed = 77
	dst, _ := models.NewMLP(cfg)
	if err := ckpt.Restore(dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for i, p := range dst.Parameters() {
		if !mat.Equal(p.Value, src.Parameters()[i].Value) {
			t.Errorf("parameter %s differs after restore", p.Name)
		}
	}

	other, _ := models.NewLinear(cfg)
	if err := ckpt.Restore(other); err == nil {
		t.Error("expected model name mismatch error")
	}
}

// fixture lays out a manifest, its spectrogram images and cached embeddings
func fixture(t *testing.T, n int) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Exp.LearningRate = 0.01
	cfg.Exp.BatchSize = 2
	cfg.Exp.Epochs = 3
	cfg.Exp.Betas = []float64{0.9, 0.999}
	cfg.Exp.Alpha = 0.5
	cfg.Exp.CacheDir = filepath.Join(root, "cache")
	cfg.Exp.CheckpointDir = filepath.Join(root, "checkpoints")
	cfg.Exp.ImageDir = filepath.Join(root, "samples")
	cfg.Exp.NumToSamples = 1
	cfg.Exp.DatasetPath = filepath.Join(root, "dataset.json")
	cfg.Exp.ValidRatio = 0.25
	cfg.Exp.NumWorkers = 2
	cfg.Exp.Progress = false
	cfg.Model.InputHeight = 2
	cfg.Model.InputWidth = 2
	cfg.Model.OutputDim = 4

	for _, dir := range []string{cfg.Exp.CacheDir, filepath.Join(root, "png")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	rng := rand.New(rand.NewSource(11))
	var records []dataset.Record
	for i := range n {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for j := range img.Pix {
			img.Pix[j] = uint8(rng.Intn(256))
		}
		imgPath := filepath.Join(root, "png", fmt.Sprintf("%d.png", i))
		f, err := os.Create(imgPath)
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()

		images := make([]string, cfg.Model.InputChannels)
		for c := range images {
			images[c] = imgPath
		}
		records = append(records, dataset.Record{
			Fields:      map[string]any{"id": int64(i), "caption": fmt.Sprintf("stimulus %d", i)},
			Spectrogram: images,
		})

		target := make([]float64, cfg.Model.OutputDim)
		for j := range target {
			target[j] = rng.NormFloat64()
		}
		data, _ := json.Marshal(target)
		if err := os.WriteFile(dataset.TargetPath(cfg.Exp.CacheDir, fmt.Sprint(i)), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := dataset.WriteManifest(cfg.Exp.DatasetPath, records, config.WriteOverwrite); err != nil {
		t.Fatal(err)
	}
	return &cfg
}

func TestSessionRunWritesCheckpointsAndPreviews(t *testing.T) {
	cfg := fixture(t, 8)
	cfg.Exp.ValidTerm = 2

	s, err := NewSession(cfg, "mlp")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.RunID() == "" {
		t.Error("empty run id")
	}

	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 3 || s.Epoch() != 3 {
		t.Fatalf("ran %d epochs, session at %d", len(results), s.Epoch())
	}

	for _, res := range results {
		if _, err := os.Stat(CheckpointPath(cfg.Exp.CheckpointDir, res.Epoch)); err != nil {
			t.Errorf("epoch %d checkpoint: %v", res.Epoch, err)
		}
		if (res.Valid != nil) != (res.Epoch == 1) {
			t.Errorf("epoch %d validated = %v, want only epoch 1", res.Epoch, res.Valid != nil)
		}
		if math.IsNaN(res.Train.Total) || res.Train.Total <= 0 {
			t.Errorf("epoch %d train loss %v", res.Epoch, res.Train.Total)
		}

		matches, _ := filepath.Glob(filepath.Join(cfg.Exp.ImageDir, fmt.Sprint(res.Epoch), "*.json"))
		if len(matches) != 1 {
			t.Errorf("epoch %d previews = %v, want 1", res.Epoch, matches)
		}
	}

	ckpt, err := LoadCheckpoint(CheckpointPath(cfg.Exp.CheckpointDir, 2))
	if err != nil {
		t.Fatal(err)
	}
	if ckpt.RunID != s.RunID() {
		t.Errorf("checkpoint run id %s, session %s", ckpt.RunID, s.RunID())
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.Exp.ImageDir, "2", "*.json"))
	if len(matches) == 0 {
		t.Fatal("no preview for the last epoch")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	var p preview
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("preview is not JSON: %v", err)
	}
	if len(p.Embedding) != cfg.Model.OutputDim || p.Epoch != 2 || p.RunID != s.RunID() {
		t.Errorf("preview = %+v", p)
	}
	if _, ok := p.Metrics["mse"]; !ok {
		t.Errorf("preview metrics = %v", p.Metrics)
	}
	if kl := p.Metrics["kl"]; kl < 0 || math.IsNaN(kl) {
		t.Errorf("preview kl = %v", kl)
	}
}

func TestSessionSurvivesValidationFailure(t *testing.T) {
	cfg := fixture(t, 4)
	cfg.Exp.Epochs = 1

	records, err := dataset.ReadManifest(cfg.Exp.DatasetPath)
	if err != nil {
		t.Fatal(err)
	}
	samples, _, err := dataset.LoadTargets(records, cfg.Exp.CacheDir, cfg.Model.OutputDim)
	if err != nil {
		t.Fatal(err)
	}
	model, err := models.New("linear", cfg.Model)
	if err != nil {
		t.Fatal(err)
	}

	broken := samples[3]
	broken.Record.Spectrogram = append([]string{filepath.Join(t.TempDir(), "gone.png")}, broken.Record.Spectrogram[1:]...)

	s, err := newSession(cfg, model, samples[:3], []dataset.Sample{broken})
	if err != nil {
		t.Fatal(err)
	}
	results, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Valid != nil {
		t.Fatalf("results = %+v", results)
	}
	if _, err := os.Stat(CheckpointPath(cfg.Exp.CheckpointDir, 0)); err != nil {
		t.Errorf("checkpoint missing after validation failure: %v", err)
	}
}

func TestSessionStartupErrors(t *testing.T) {
	cfg := fixture(t, 2)

	if _, err := NewSession(cfg, "coatnet"); !errors.Is(err, models.ErrUnknownModel) {
		t.Errorf("unknown model: err = %v", err)
	}

	cfg.Exp.CacheDir = t.TempDir()
	if _, err := NewSession(cfg, "linear"); !errors.Is(err, ErrNoSamples) {
		t.Errorf("no embeddings: err = %v", err)
	}
}

func TestStepHonoursCancellation(t *testing.T) {
	cfg := fixture(t, 4)
	s, err := NewSession(cfg, "linear")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Step(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Epoch() != 0 {
		t.Errorf("epoch advanced to %d", s.Epoch())
	}
}

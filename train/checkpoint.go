package train

import (
	"compress/zlib"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/models"
)

// Tensor is a parameter matrix in checkpoint form
type Tensor struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Checkpoint is the model state at the end of an epoch
type Checkpoint struct {
	Model      string            `json:"model"`
	Epoch      int               `json:"epoch"`
	RunID      string            `json:"run_id"`
	TrainLoss  float64           `json:"train_loss"`
	ValidLoss  *float64          `json:"valid_loss,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Parameters map[string]Tensor `json:"parameters"`
}

// CheckpointPath is the file for epoch under dir
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, strconv.Itoa(epoch)+".ckpt")
}

// NewCheckpoint snapshots the parameters of m
func NewCheckpoint(m models.Model, epoch int, runID string, trainLoss float64, validLoss *float64) *Checkpoint {
	params := make(map[string]Tensor)
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		data := make([]float64, 0, r*c)
		for i := range r {
			data = append(data, p.Value.RawRowView(i)...)
		}
		params[p.Name] = Tensor{Rows: r, Cols: c, Data: data}
	}

	return &Checkpoint{
		Model:      m.Name(),
		Epoch:      epoch,
		RunID:      runID,
		TrainLoss:  trainLoss,
		ValidLoss:  validLoss,
		CreatedAt:  time.Now().UTC(),
		Parameters: params,
	}
}

// Restore copies the checkpointed parameters into m
func (c *Checkpoint) Restore(m models.Model) error {
	if c.Model != m.Name() {
		return fmt.Errorf("checkpoint holds model %s, not %s", c.Model, m.Name())
	}

	values := make(map[string]*mat.Dense, len(c.Parameters))
	for name, t := range c.Parameters {
		if t.Rows*t.Cols != len(t.Data) || t.Rows <= 0 || t.Cols <= 0 {
			return fmt.Errorf("parameter %s: %dx%d does not match %d values", name, t.Rows, t.Cols, len(t.Data))
		}
		values[name] = mat.NewDense(t.Rows, t.Cols, t.Data)
	}
	return models.LoadParameters(m, values)
}

// Save writes the checkpoint to path as zlib-compressed JSON, replacing any
// existing file only once the new one is complete
func (c *Checkpoint) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	zw := zlib.NewWriter(tmp)
	err = json.NewEncoder(zw).Encode(c)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by Save
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	defer zr.Close()

	var c Checkpoint
	if err := json.NewDecoder(zr).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &c, nil
}

package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/logging"
)

// Sample pairs a manifest record with its target embedding
type Sample struct {
	Record Record
	Target []float64
}

// InputShape is the model input layout: one grayscale plane per channel
type InputShape struct {
	Channels int
	Height   int
	Width    int
}

// Dim is the flattened input length
func (s InputShape) Dim() int {
	return s.Channels * s.Height * s.Width
}

// Batch is one minibatch. Rows of X and Y line up with Keys.
type Batch struct {
	X    *mat.Dense
	Y    *mat.Dense
	Keys []string
}

// Size is the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Keys)
}

// TargetPath is where the embedding for id is cached
func TargetPath(cacheDir, id string) string {
	return filepath.Join(cacheDir, id+".json")
}

// LoadTargets attaches cached embeddings to records. Records without a cached
// embedding are left out and counted in the second return value; an
// embedding of the wrong length is an error.
func LoadTargets(records []Record, cacheDir string, dim int) ([]Sample, int, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "dataset_loader",
		"cache_dir": cacheDir,
	})

	samples := make([]Sample, 0, len(records))
	missing := 0
	for _, r := range records {
		id := r.ID()
		data, err := os.ReadFile(TargetPath(cacheDir, id))
		if errors.Is(err, os.ErrNotExist) {
			missing++
			logger.Warn("No cached embedding, record excluded", logging.Fields{"id": id})
			continue
		}
		if err != nil {
			return nil, missing, err
		}

		var target []float64
		if err := json.Unmarshal(data, &target); err != nil {
			return nil, missing, fmt.Errorf("embedding for %s: %w", id, err)
		}
		if len(target) != dim {
			return nil, missing, fmt.Errorf("embedding for %s has %d values, want %d", id, len(target), dim)
		}
		samples = append(samples, Sample{Record: r, Target: target})
	}
	return samples, missing, nil
}

// Split shuffles samples with seed and holds out ratio of them for
// validation. At least one sample stays in each part when there are two or
// more and ratio is positive.
func Split(samples []Sample, ratio float64, seed int64) (train, valid []Sample) {
	n := len(samples)
	nValid := int(math.Round(ratio * float64(n)))
	if ratio > 0 && nValid == 0 && n > 1 {
		nValid = 1
	}
	if nValid >= n && n > 0 {
		nValid = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	valid = make([]Sample, 0, nValid)
	train = make([]Sample, 0, n-nValid)
	for i, p := range perm {
		if i < nValid {
			valid = append(valid, samples[p])
		} else {
			train = append(train, samples[p])
		}
	}
	return train, valid
}

// LoadInput decodes the record's spectrogram images as grayscale planes
// resampled to shape, concatenated channel by channel, values in [0, 1]
func LoadInput(r Record, shape InputShape) ([]float64, error) {
	if len(r.Spectrogram) != shape.Channels {
		return nil, fmt.Errorf("record %s has %d spectrograms, want %d", r.ID(), len(r.Spectrogram), shape.Channels)
	}

	plane := shape.Height * shape.Width
	out := make([]float64, shape.Dim())
	gray := image.NewGray(image.Rect(0, 0, shape.Width, shape.Height))

	for c, path := range r.Spectrogram {
		img, err := decodeImage(path)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID(), err)
		}

		xdraw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		for i, v := range gray.Pix[:plane] {
			out[c*plane+i] = float64(v) / 255
		}
	}
	return out, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Loader yields batches of samples, decoding images on a pool of workers
// ahead of the consumer
type Loader struct {
	samples   []Sample
	shape     InputShape
	batchSize int
	workers   int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader creates a loader. Shuffled loaders draw a new order for every
// pass from a generator seeded with seed.
func NewLoader(samples []Sample, shape InputShape, batchSize, workers int, shuffle bool, seed int64) *Loader {
	return &Loader{
		samples:   samples,
		shape:     shape,
		batchSize: max(1, batchSize),
		workers:   max(1, workers),
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Len is the number of batches in one pass; the last one may be short
func (l *Loader) Len() int {
	return (len(l.samples) + l.batchSize - 1) / l.batchSize
}

// Samples is the number of samples in one pass
func (l *Loader) Samples() int {
	return len(l.samples)
}

type batchResult struct {
	batch *Batch
	err   error
}

// Iterate calls fn with every batch of one pass, in order. It stops at the
// first error from loading, from fn or from ctx.
func (l *Loader) Iterate(ctx context.Context, fn func(*Batch) error) error {
	n := l.Len()
	if n == 0 {
		return nil
	}

	order := l.order()
	ctx, cancel := context.WithCancel(ctx)

	slots := make([]chan batchResult, n)
	for i := range slots {
		slots[i] = make(chan batchResult, 1)
	}
	ahead := make(chan struct{}, 2*l.workers)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range l.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b, err := l.load(order, i)
				slots[i] <- batchResult{batch: b, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range n {
			select {
			case ahead <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		cancel()
		wg.Wait()
	}()

	for i := range n {
		if err := ctx.Err(); err != nil {
			return err
		}

		var res batchResult
		select {
		case res = <-slots[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		<-ahead

		if res.err != nil {
			return res.err
		}
		if err := fn(res.batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) order() []int {
	if l.shuffle {
		return l.rng.Perm(len(l.samples))
	}
	order := make([]int, len(l.samples))
	for i := range order {
		order[i] = i
	}
	return order
}

func (l *Loader) load(order []int, batch int) (*Batch, error) {
	lo := batch * l.batchSize
	hi := min(lo+l.batchSize, len(order))
	idx := order[lo:hi]

	dim := len(l.samples[idx[0]].Target)
	b := &Batch{
		X:    mat.NewDense(len(idx), l.shape.Dim(), nil),
		Y:    mat.NewDense(len(idx), dim, nil),
		Keys: make([]string, len(idx)),
	}

	for row, i := range idx {
		s := l.samples[i]
		x, err := LoadInput(s.Record, l.shape)
		if err != nil {
			return nil, err
		}
		b.X.SetRow(row, x)
		b.Y.SetRow(row, s.Target)
		b.Keys[row] = s.Record.ID()
	}
	return b, nil
}

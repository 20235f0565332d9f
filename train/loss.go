// Package train runs the training loop for the EEG-to-embedding models:
// batching, loss, optimisation, validation and checkpointing.
package train

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/algorithms/common"
	"github.com/RyanBlaney/braincoder/algorithms/stats"
)

// LossValue is one evaluation of the composite loss
type LossValue struct {
	Total float64
	MSE   float64
	KL    float64
}

// Loss blends mean squared error with the KL divergence between the
// softmax of the target and the softmax of the prediction. Alpha weights the
// MSE term and 1-Alpha the KL term.
type Loss struct {
	Alpha float64
}

// Evaluate returns the loss of pred against target. MSE averages over every
// element and KL over rows.
func (l Loss) Evaluate(pred, target *mat.Dense) (LossValue, error) {
	if err := sameShape(pred, target); err != nil {
		return LossValue{}, err
	}

	rows, cols := pred.Dims()
	var sq, kl float64
	for i := range rows {
		p, y := pred.RawRowView(i), target.RawRowView(i)
		sq += stats.SquaredErrorSum(p, y)
		kl += stats.SoftmaxKL(y, p)
	}

	v := LossValue{
		MSE: sq / float64(rows*cols),
		KL:  kl / float64(rows),
	}
	v.Total = l.Alpha*v.MSE + (1-l.Alpha)*v.KL
	return v, nil
}

// Gradient returns the loss gradient with respect to pred
func (l Loss) Gradient(pred, target *mat.Dense) (*mat.Dense, error) {
	if err := sameShape(pred, target); err != nil {
		return nil, err
	}

	rows, cols := pred.Dims()
	grad := mat.NewDense(rows, cols, nil)
	mseScale := l.Alpha * 2 / float64(rows*cols)
	klScale := (1 - l.Alpha) / float64(rows)

	for i := range rows {
		p, y := pred.RawRowView(i), target.RawRowView(i)
		sp, sy := common.Softmax(p), common.Softmax(y)
		g := grad.RawRowView(i)
		for j := range g {
			g[j] = mseScale*(p[j]-y[j]) + klScale*(sp[j]-sy[j])
		}
	}
	return grad, nil
}

func sameShape(a, b *mat.Dense) error {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return fmt.Errorf("prediction is %dx%d but target is %dx%d", ar, ac, br, bc)
	}
	return nil
}

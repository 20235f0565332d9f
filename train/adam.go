package train

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/models"
)

const adamEpsilon = 1e-8

type moments struct {
	m, v *mat.Dense
}

// Adam is the Adam optimiser over a model's parameter groups
type Adam struct {
	lr     float64
	beta1  float64
	beta2  float64
	groups []models.ParamGroup
	state  map[*models.Parameter]*moments
	steps  int
}

// NewAdam creates an optimiser with base learning rate lr and betas
// (beta1, beta2)
func NewAdam(groups []models.ParamGroup, lr float64, betas []float64) (*Adam, error) {
	if len(betas) != 2 {
		return nil, fmt.Errorf("adam needs two betas, got %d", len(betas))
	}
	for _, b := range betas {
		if b < 0 || b >= 1 {
			return nil, fmt.Errorf("adam beta %v outside [0, 1)", b)
		}
	}

	state := make(map[*models.Parameter]*moments)
	for _, g := range groups {
		for _, p := range g.Params {
			r, c := p.Value.Dims()
			state[p] = &moments{m: mat.NewDense(r, c, nil), v: mat.NewDense(r, c, nil)}
		}
	}

	return &Adam{
		lr:     lr,
		beta1:  betas[0],
		beta2:  betas[1],
		groups: groups,
		state:  state,
	}, nil
}

// Step applies one update from the gradients currently held by the
// parameters
func (a *Adam) Step() {
	a.steps++
	c1 := 1 - math.Pow(a.beta1, float64(a.steps))
	c2 := 1 - math.Pow(a.beta2, float64(a.steps))

	for _, g := range a.groups {
		lr := a.lr * g.LRScale
		for _, p := range g.Params {
			st := a.state[p]
			value := p.Value.RawMatrix().Data
			grad := p.Grad.RawMatrix().Data
			m := st.m.RawMatrix().Data
			v := st.v.RawMatrix().Data

			for i, gi := range grad {
				m[i] = a.beta1*m[i] + (1-a.beta1)*gi
				v[i] = a.beta2*v[i] + (1-a.beta2)*gi*gi
				value[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + adamEpsilon)
			}
		}
	}
}

// Steps is the number of updates applied so far
func (a *Adam) Steps() int {
	return a.steps
}

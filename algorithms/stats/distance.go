package stats

import (
	"math"

	"github.com/RyanBlaney/braincoder/algorithms/common"
)

// DistanceFunction is a function type for computing distance between two vectors
type DistanceFunction func(a, b []float64) float64

// SquaredErrorSum returns sum((a_i - b_i)^2) over the shared length
func SquaredErrorSum(a, b []float64) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := range n {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// MeanSquaredError returns the mean of squared differences
func MeanSquaredError(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0.0
	}
	return SquaredErrorSum(a, b) / float64(n)
}

// KLDivergenceFunc calculates KL(p || q) for two probability distributions.
// Terms with p_i == 0 contribute nothing; q_i == 0 with p_i > 0 yields +Inf.
func KLDivergenceFunc(p, q []float64) float64 {
	n := min(len(p), len(q))
	kl := 0.0
	for i := range n {
		if p[i] <= 0 {
			continue
		}
		if q[i] <= 0 {
			return math.Inf(1)
		}
		kl += p[i] * math.Log(p[i]/q[i])
	}
	return kl
}

// SoftmaxKL returns KL(softmax(target) || softmax(pred)) from raw scores.
// It works in log space so large logits stay finite.
func SoftmaxKL(target, pred []float64) float64 {
	logP := common.LogSoftmax(target)
	logQ := common.LogSoftmax(pred)

	kl := 0.0
	for i := range logP {
		p := math.Exp(logP[i])
		if p == 0 {
			continue
		}
		kl += p * (logP[i] - logQ[i])
	}
	return kl
}

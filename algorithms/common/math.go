package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical helpers shared by the pipeline, backed by gonum

// Mean calculates the arithmetic mean of a slice; 0 for an empty slice
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// MinMaxNormalize maps data onto [0, 1]. Constant data maps to zeros.
func MinMaxNormalize(data []float64) []float64 {
	normalized := make([]float64, len(data))
	if len(data) == 0 {
		return normalized
	}

	lo := floats.Min(data)
	hi := floats.Max(data)
	if math.Abs(hi-lo) < 1e-10 {
		return normalized
	}

	for i, val := range data {
		normalized[i] = (val - lo) / (hi - lo)
	}
	return normalized
}

// LogSoftmax returns log(softmax(x)) computed stably through log-sum-exp
func LogSoftmax(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}

	lse := floats.LogSumExp(x)
	for i, v := range x {
		out[i] = v - lse
	}
	return out
}

// Softmax normalizes x into a probability distribution
func Softmax(x []float64) []float64 {
	out := LogSoftmax(x)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	return out
}

// Clamp limits value to [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

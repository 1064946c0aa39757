// Package stats has running statistics used for training summaries and input normalisation.
package stats

import (
	"fmt"
	"math"
)

// Calc exponentional moving average over approximately n values
type EMA float64

func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Running mean and stddev as per http://www.johndcook.com/blog/standard_deviation/
// Var is the running sum of squared differences from the mean.
type Average struct {
	Count, Mean float64
	Var, StdDev float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.Mean, s.Var = x, 0
		return
	}
	oldM := s.Mean
	s.Mean = oldM + (x-oldM)/s.Count
	s.Var += (x - oldM) * (x - s.Mean)
	s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
}

// AddSlice adds each of the values in turn.
func (s *Average) AddSlice(xs []float32) {
	for _, x := range xs {
		s.Add(float64(x))
	}
}

// Merge combines the statistics from another set of samples, so averages can be accumulated in parallel.
func (s *Average) Merge(o Average) {
	if o.Count == 0 {
		return
	}
	if s.Count == 0 {
		*s = o
		return
	}
	n := s.Count + o.Count
	delta := o.Mean - s.Mean
	s.Var += o.Var + delta*delta*s.Count*o.Count/n
	s.Mean += delta * o.Count / n
	s.Count = n
	s.StdDev = math.Sqrt(s.Var / (n - 1))
}

func (s Average) String() string {
	if s.StdDev < 0.01 {
		return fmt.Sprintf("%.3f", s.Mean)
	}
	return fmt.Sprintf("%.3f±%.3f", s.Mean, s.StdDev)
}

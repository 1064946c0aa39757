package reid

import (
	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/num"
)

// Scorer returns a similarity score for each pair, higher means more likely to be the same person.
type Scorer interface {
	Score(pairs []Pair) ([]float64, error)
}

// NetScorer scores pairs using the softmax output of a trained network. The network batch size is
// fixed, so pairs are processed in chunks with the final chunk padded by repeating its first pair.
type NetScorer struct {
	Net   *nnet.Network
	Input Input
	x     num.Array
	batch []Pair
}

// NewNetScorer wraps a network whose first input dimension holds two samples per pair.
func NewNetScorer(net *nnet.Network, in Input) (*NetScorer, error) {
	shape := net.InShape()
	if len(shape) != 4 || shape[0]%2 != 0 {
		return nil, errors.Errorf("network input shape %v is not a batch of image pairs", shape)
	}
	if out := net.OutShape(); len(out) != 2 || out[0] != shape[0]/2 || out[1] != 2 {
		return nil, errors.Errorf("network output shape %v, expected [%d 2]", out, shape[0]/2)
	}
	return &NetScorer{
		Net:   net,
		Input: in,
		x:     net.Queue().NewArray(shape...),
		batch: make([]Pair, shape[0]/2),
	}, nil
}

// Score returns the probability of the same person class for each pair.
func (s *NetScorer) Score(pairs []Pair) ([]float64, error) {
	scores := make([]float64, 0, len(pairs))
	n := len(s.batch)
	for start := 0; start < len(pairs); start += n {
		end := start + n
		if end > len(pairs) {
			end = len(pairs)
		}
		copy(s.batch, pairs[start:end])
		for i := end - start; i < n; i++ {
			s.batch[i] = pairs[start]
		}
		if err := s.Input.Convert(s.batch, s.x); err != nil {
			return nil, err
		}
		pred := s.Net.Fprop(s.x)
		s.Net.Queue().Finish()
		data := pred.Data()
		for i := 0; i < end-start; i++ {
			scores = append(scores, float64(data[2*i+1]))
		}
	}
	return scores, nil
}

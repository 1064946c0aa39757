package reid

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/img"
	log "github.com/sirupsen/logrus"
)

// Mode selects which persons the generator draws from.
type Mode int

const (
	// Exclude draws from every person not in the holdout set.
	Exclude Mode = iota
	// Only draws from the holdout set.
	Only
)

func (m Mode) String() string {
	if m == Only {
		return "only"
	}
	return "exclude"
}

// MaxRetries bounds the number of attempts to find a usable set of persons for one minibatch.
var MaxRetries = 1000

// ErrRetriesExhausted is returned from Draw if no usable sample was found after MaxRetries attempts.
var ErrRetriesExhausted = errors.New("minibatch generator: retries exhausted")

// Generator creates balanced minibatches of positive and negative image pairs. Each generator owns its
// random number source so it must not be shared between goroutines.
type Generator struct {
	data *Dataset
	pool []int
	rng  *rand.Rand
	perm []int
}

// NewGenerator returns a generator for the persons in the holdout set (mode Only) or for the rest of
// the dataset (mode Exclude).
func NewGenerator(data *Dataset, holdout []int, mode Mode, rng *rand.Rand) (*Generator, error) {
	if rng == nil {
		return nil, errors.New("minibatch generator: nil random source")
	}
	g := &Generator{data: data, rng: rng}
	switch mode {
	case Exclude:
		g.pool = data.Complement(holdout)
	case Only:
		seen := make(map[int]bool)
		for _, ix := range holdout {
			if ix < 0 || ix >= len(data.Persons) {
				return nil, errors.Errorf("minibatch generator: person %d out of range", ix)
			}
			if seen[ix] {
				return nil, errors.Errorf("minibatch generator: duplicate person %d", ix)
			}
			seen[ix] = true
		}
		g.pool = append([]int{}, holdout...)
	default:
		return nil, errors.Errorf("minibatch generator: invalid mode %d", mode)
	}
	if len(g.pool) < 2 {
		return nil, errors.Errorf("minibatch generator: only %d persons to sample from", len(g.pool))
	}
	g.perm = make([]int, len(g.pool))
	log.WithFields(log.Fields{"mode": mode, "persons": len(g.pool)}).Debug("new minibatch generator")
	return g, nil
}

// Pool returns the person indices which the generator samples from.
func (g *Generator) Pool() []int {
	return g.pool
}

// Draw returns size pairs in random order, half of which are positive. For each of size/2 distinct
// persons there is one positive pair and one negative pair with a partner chosen from the other half
// of the sample.
func (g *Generator) Draw(size int) ([]Pair, error) {
	if size < 2 || size%2 != 0 {
		return nil, errors.Errorf("minibatch generator: size %d must be even and at least 2", size)
	}
	if size > len(g.pool) {
		return nil, errors.Errorf("minibatch generator: size %d exceeds %d available persons", size, len(g.pool))
	}
	half := size / 2
	var sample []int
	for try := 0; ; try++ {
		if try >= MaxRetries {
			return nil, ErrRetriesExhausted
		}
		sample = g.subsample(size)
		if g.usable(sample, half) {
			break
		}
	}
	persons := g.data.Persons
	pairs := make([]Pair, 0, size)
	for i := 0; i < half; i++ {
		pos, neg := persons[sample[i]], persons[sample[i+half]]
		pairs = append(pairs,
			Pair{Left: g.pick(pos.Views[Probe]), Right: g.pick(pos.Views[Gallery]), Label: 1},
			Pair{Left: g.pick(pos.Views[Probe]), Right: g.pick(neg.Views[Gallery]), Label: 0},
		)
	}
	g.rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
	return pairs, nil
}

// partial Fisher-Yates shuffle of the pool returning the first n entries
func (g *Generator) subsample(n int) []int {
	copy(g.perm, g.pool)
	for i := 0; i < n; i++ {
		j := i + g.rng.Intn(len(g.perm)-i)
		g.perm[i], g.perm[j] = g.perm[j], g.perm[i]
	}
	return g.perm[:n]
}

func (g *Generator) usable(sample []int, half int) bool {
	persons := g.data.Persons
	for i := 0; i < half; i++ {
		pos, neg := persons[sample[i]], persons[sample[i+half]]
		if len(pos.Views[Probe]) == 0 || len(pos.Views[Gallery]) == 0 || len(neg.Views[Gallery]) == 0 {
			return false
		}
	}
	return true
}

func (g *Generator) pick(images []*img.Image) *img.Image {
	return images[g.rng.Intn(len(images))]
}

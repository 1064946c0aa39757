package reid

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/metrics"
	"github.com/ptran/idla-person-reid/nnet"
	log "github.com/sirupsen/logrus"
)

// StatsHeaders are the names of the nnet.Stats values recorded by the Validator.
var StatsHeaders = []string{"loss", "rank1", "rank5"}

// Validator evaluates the rank accuracy on a set of held out persons during training, implements the
// nnet.Tester interface. A checkpoint is saved each time the rank 1 match rate improves.
type Validator struct {
	Data           *Dataset
	Persons        []int
	Input          Input
	Trials         int
	StopAfter      int
	StatsFile      string
	CheckpointFile string
	Metrics        *metrics.Metrics
	Stats          []nnet.Stats
	rng            *rand.Rand
	scorer         *NetScorer
	best           float64
	bestIter       int
}

// NewValidator creates a new validator for the given persons. Stats from a previous run may be passed to
// continue training from a checkpoint.
func NewValidator(data *Dataset, persons []int, in Input, rng *rand.Rand, prev []nnet.Stats) *Validator {
	v := &Validator{Data: data, Persons: persons, Input: in, Trials: 1, rng: rng}
	for _, s := range prev {
		v.Stats = append(v.Stats, s)
		if len(s.Values) > 1 && s.Values[1] > v.best {
			v.best, v.bestIter = s.Values[1], s.Iter
		}
	}
	return v
}

// Test computes the cumulative match curve on the validation persons. It returns true if StopAfter is
// set and there has been no improvement in that many iterations.
func (v *Validator) Test(net *nnet.Network, iter int, loss float64, start time.Time) (bool, error) {
	if v.scorer == nil || v.scorer.Net != net {
		var err error
		if v.scorer, err = NewNetScorer(net, v.Input); err != nil {
			return false, err
		}
	}
	cmc, err := CMC(v.Data, v.Persons, v.scorer, v.Trials, v.rng)
	if err != nil {
		return false, errors.Wrap(err, "validation")
	}
	rank1, rank5 := Rank(cmc, 1), Rank(cmc, 5)
	s := nnet.Stats{
		Iter:      iter,
		LearnRate: net.LearningRate(iter),
		Values:    []float64{loss, rank1, rank5},
		Elapsed:   time.Since(start),
	}
	improved := rank1 > v.best || len(v.Stats) == 0
	if improved {
		v.best, v.bestIter = rank1, iter
	}
	s.BestSince = iter - v.bestIter
	v.Stats = append(v.Stats, s)
	log.WithFields(log.Fields{
		"iter":  iter,
		"loss":  loss,
		"lr":    s.LearnRate,
		"rank1": rank1,
		"rank5": rank5,
		"time":  s.Elapsed.Round(time.Second),
	}).Info("validation")

	if improved && v.CheckpointFile != "" {
		if err := net.Checkpoint(iter, v.Stats).Save(v.CheckpointFile); err != nil {
			return false, err
		}
	}
	if v.StatsFile != "" {
		if err := SaveStats(v.StatsFile, v.Stats); err != nil {
			return false, err
		}
	}
	if v.Metrics != nil {
		v.Metrics.Train(iter, loss, s.LearnRate)
		v.Metrics.Validation(rank1, rank5)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := v.Metrics.Push(ctx); err != nil {
			log.WithError(err).Warn("failed to push metrics")
		}
		cancel()
	}
	return v.StopAfter > 0 && s.BestSince >= v.StopAfter, nil
}

// SaveStats writes the training stats to a JSON file, the file is written to a temporary name first and
// then renamed.
func SaveStats(filePath string, stats []nnet.Stats) error {
	tmpPath := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "save stats")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(stats); err != nil {
		f.Close()
		return errors.Wrap(err, "encode stats")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "save stats")
	}
	return errors.Wrap(os.Rename(tmpPath, filePath), "save stats")
}

// LoadStats reads the stats saved with SaveStats.
func LoadStats(filePath string) ([]nnet.Stats, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "load stats")
	}
	defer f.Close()
	var stats []nnet.Stats
	if err = json.NewDecoder(f).Decode(&stats); err != nil {
		return nil, errors.Wrapf(err, "decode stats %s", filePath)
	}
	return stats, nil
}

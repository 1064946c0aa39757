package nnet

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/num"
	log "github.com/sirupsen/logrus"
)

// Checkpoint holds the state needed to resume training or to evaluate a trained network.
type Checkpoint struct {
	Config  Config
	Iter    int
	Stats   []Stats
	Weights [][]float32
}

// Checkpoint takes a copy of the current network weights.
func (n *Network) Checkpoint(iter int, stats []Stats) Checkpoint {
	c := Checkpoint{Config: n.Config, Iter: iter, Stats: append([]Stats{}, stats...)}
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			c.Weights = append(c.Weights, append([]float32{}, W.Data()...), append([]float32{}, B.Data()...))
		}
	}
	return c
}

// SetWeights loads the weights from a checkpoint, the layer parameters must have the same size.
func (n *Network) SetWeights(c Checkpoint) error {
	i := 0
	for ix, layer := range n.Layers {
		l, ok := layer.(ParamLayer)
		if !ok {
			continue
		}
		W, B := l.Params()
		if i+1 >= len(c.Weights) || len(c.Weights[i]) != W.Size() || len(c.Weights[i+1]) != B.Size() {
			return errors.Errorf("checkpoint weights do not match layer %d: %s", ix, layer.ToString())
		}
		l.SetParams(num.FromSlice(c.Weights[i], W.Dims()...), num.FromSlice(c.Weights[i+1], B.Dims()...))
		i += 2
	}
	if i != len(c.Weights) {
		return errors.Errorf("checkpoint has %d parameter arrays, network has %d", len(c.Weights), i)
	}
	return nil
}

// Save checkpoint in gob format, the file is written to a temporary name first and then renamed.
func (c Checkpoint) Save(filePath string) error {
	tmpPath := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "save checkpoint")
	}
	if err = gob.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "encode checkpoint")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "save checkpoint")
	}
	log.WithFields(log.Fields{"file": filePath, "iter": c.Iter}).Info("saved checkpoint")
	return os.Rename(tmpPath, filePath)
}

// LoadCheckpoint decodes a checkpoint saved with Save.
func LoadCheckpoint(filePath string) (c Checkpoint, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return c, errors.Wrap(err, "load checkpoint")
	}
	defer f.Close()
	if err = gob.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "decode checkpoint %s", filePath)
	}
	log.WithFields(log.Fields{"file": filePath, "iter": c.Iter}).Info("loaded checkpoint")
	return c, nil
}

package nnet

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/num"
	"github.com/ptran/idla-person-reid/stats"
	log "github.com/sirupsen/logrus"
)

// number of iterations to average the training loss over
const emaN = 100

// Training statistics, Values holds the loss followed by the test metrics.
type Stats struct {
	Iter      int
	LearnRate float64
	Values    []float64
	BestSince int
	Elapsed   time.Duration
}

func (s Stats) Format() []string {
	if len(s.Values) == 0 {
		return nil
	}
	str := []string{fmt.Sprintf("%7.4f", s.Values[0])}
	for _, v := range s.Values[1:] {
		str = append(str, fmt.Sprintf("%6.2f%%", v*100))
	}
	return str
}

// Batcher interface supplies the next batch of training data. labels has one entry per row of the
// network output, which may be fewer than the number of input samples if the network merges them.
type Batcher interface {
	NextBatch() (x num.Array, labels []int32, err error)
}

// Tester interface to evaluate the performance every TestEvery iterations, Test method returns true if
// training should stop.
type Tester interface {
	Test(net *Network, iter int, loss float64, start time.Time) (bool, error)
}

// Train the network by updating the weights with minibatches from data, starting after iteration
// startIter. Training stops after MaxIter iterations, when the tester returns true or when the context
// is cancelled.
func Train(ctx context.Context, net *Network, data Batcher, test Tester, startIter int) error {
	start := time.Now()
	var avgLoss stats.EMA
	for iter := startIter + 1; iter <= net.MaxIter; iter++ {
		select {
		case <-ctx.Done():
			log.Infof("training stopped at iteration %d", iter-1)
			return ctx.Err()
		default:
		}
		x, labels, err := data.NextBatch()
		if err != nil {
			return errors.Wrapf(err, "iteration %d", iter)
		}
		loss, err := TrainBatch(net, x, labels, net.LearningRate(iter))
		if err != nil {
			return errors.Wrapf(err, "iteration %d", iter)
		}
		avgLoss = stats.EMA(avgLoss.Add(loss, emaN))
		if net.DebugLevel >= 1 {
			log.WithFields(log.Fields{"iter": iter, "loss": loss}).Debug("train batch")
		}
		if (net.TestEvery > 0 && iter%net.TestEvery == 0) || iter == net.MaxIter {
			done, err := test.Test(net, iter, float64(avgLoss), start)
			if err != nil {
				return errors.Wrapf(err, "test at iteration %d", iter)
			}
			if done {
				break
			}
		}
	}
	if net.Profile {
		log.Infof("kernel profile:\n%s", net.queue.Profile())
	}
	return nil
}

// TrainBatch runs one forward and backward pass and updates the weights with the given learning rate.
// Returns the average loss over the batch prior to updating the weights.
func TrainBatch(net *Network, x num.Array, labels []int32, learningRate float64) (float64, error) {
	q := net.queue
	nBatch := net.yOneHot.Dims()[0]
	if len(labels) != nBatch {
		return 0, errors.Errorf("have %d labels for output batch size %d", len(labels), nBatch)
	}
	if !num.SameShape(x.Dims(), net.inShape) {
		return 0, errors.Errorf("input shape %v, expected %v", x.Dims(), net.inShape)
	}
	q.Call(num.Onehot(labels, net.yOneHot))
	yPred := net.Fprop(x)
	losses := net.OutLayer().Loss(net.yOneHot, yPred)
	// gradient of softmax with log loss at the output
	q.Call(
		num.Sum(losses, net.batchLoss),
		num.Copy(net.inputGrad, yPred),
		num.Axpy(-1, net.yOneHot, net.inputGrad),
	)
	if net.DebugLevel >= 2 {
		log.Debugf("yPred:\n%s", yPred)
		log.Debugf("input grad:\n%s", net.inputGrad)
	}
	net.Bprop(net.inputGrad)
	batch := float32(nBatch)
	for _, layer := range net.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.UpdateParams(float32(learningRate)/batch, float32(net.Lambda)*batch, float32(net.Momentum))
		}
	}
	q.Finish()
	return float64(net.batchLoss.Data()[0]) / float64(nBatch), nil
}

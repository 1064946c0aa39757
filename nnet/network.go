// Package nnet contains routines for constructing, training and testing neural networks.
package nnet

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/num"
	"github.com/seehuhn/mt19937"
	log "github.com/sirupsen/logrus"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers    []Layer
	queue     num.Queue
	inShape   []int
	yOneHot   num.Array
	inputGrad num.Array
	batchLoss num.Array
}

// New function creates a new network with the given layers. inShape is the shape of a single input
// sample, batchSize is the number of samples in each call to Fprop.
func New(q num.Queue, conf Config, batchSize int, inShape []int) (*Network, error) {
	n := &Network{Config: conf, queue: q}
	n.inShape = append([]int{batchSize}, inShape...)
	shape := n.inShape
	var prev Layer
	for i, l := range conf.Layers {
		layer, err := l.Unmarshal()
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		if err = layer.Init(q, shape, prev); err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
		prev = layer
	}
	if len(n.Layers) == 0 {
		return nil, errors.New("network has no layers")
	}
	if _, ok := n.Layers[len(n.Layers)-1].(OutputLayer); !ok {
		return nil, errors.New("last layer must be an output layer")
	}
	n.yOneHot = q.NewArray(shape...)
	n.inputGrad = q.NewArray(shape...)
	n.batchLoss = q.NewArray(1)
	if conf.DebugLevel >= 1 {
		log.Debugf("new network:\n%s", n)
	}
	return n, nil
}

// Queue used to run the network kernels.
func (n *Network) Queue() num.Queue {
	return n.queue
}

// InShape is the input shape including the batch dimension.
func (n *Network) InShape() []int {
	return n.inShape
}

// OutShape is the shape of the output layer predictions.
func (n *Network) OutShape() []int {
	return n.yOneHot.Dims()
}

// Initialise network weights using a linear or normal distribution.
func (n *Network) InitWeights(rng *rand.Rand) {
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			l.InitParams(rng, float32(n.Bias), n.NormalWeights)
		}
	}
	if n.DebugLevel >= 2 {
		n.PrintWeights()
	}
}

// Copy weights and bias arrays to destination net
func (n *Network) CopyTo(net *Network) {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			net.Layers[i].(ParamLayer).SetParams(W, B)
		}
	}
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Feed forward the input to get the predicted output
func (n *Network) Fprop(input num.Array) num.Array {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			log.Debugf("layer %d input\n%s", i, pred)
		}
		pred = layer.Fprop(pred)
	}
	return pred
}

// Bprop back propagates the gradient at the output, updating the parameter gradients of each layer.
func (n *Network) Bprop(grad num.Array) {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		grad = n.Layers[i].Bprop(grad)
		if n.DebugLevel >= 3 && grad != nil {
			log.Debugf("layer %d bprop output\n%s", i, grad)
		}
	}
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-40s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("%s\n== Network ==\n%s", n.Config.configString(), strings.Join(s, "\n"))
}

// Print network weights
func (n *Network) PrintWeights() {
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			log.Debugf("== Layer %d weights ==\n%s %s", i, W, B)
		}
	}
}

// NewRand returns a new random number generator using the Mersenne Twister algorithm.
// If seed is <= 0 then the current time is used.
func NewRand(seed int64) *rand.Rand {
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
	}
	log.Debugf("random seed = %d", seed)
	rng := rand.New(mt19937.New())
	rng.Seed(seed)
	return rng
}

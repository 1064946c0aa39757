package reid

import (
	"sync"

	"github.com/ptran/idla-person-reid/img"
	"github.com/ptran/idla-person-reid/num"
)

// PairLoader supplies training minibatches from a generator. The next batch is drawn, augmented and
// converted in the background while the current one is in use, so a returned array is only valid until
// the following call to NextBatch.
type PairLoader struct {
	BatchSize int
	gen       *Generator
	input     Input
	trans     *img.Transformer
	x         [2]num.Array
	labels    [2][]int32
	err       [2]error
	buf       int
	sync.WaitGroup
}

// NewPairLoader allocates the input buffers for batchSize pairs of rows x cols images and starts loading
// the first batch. trans may be nil to disable augmentation.
func NewPairLoader(dev num.Device, gen *Generator, in Input, batchSize, rows, cols int, trans *img.Transformer) *PairLoader {
	l := &PairLoader{BatchSize: batchSize, gen: gen, input: in, trans: trans}
	for i := range l.x {
		l.x[i] = dev.NewArray(Shape(batchSize, rows, cols)...)
	}
	l.loadBatch()
	return l
}

// kick off load of next batch of data in background
func (l *PairLoader) loadBatch() {
	l.Add(1)
	go func(buf int) {
		defer l.Done()
		pairs, err := l.gen.Draw(l.BatchSize)
		if err != nil {
			l.err[buf] = err
			return
		}
		if l.trans != nil {
			images := make([]*img.Image, 0, 2*len(pairs))
			for _, p := range pairs {
				images = append(images, p.Left, p.Right)
			}
			images = l.trans.TransformBatch(images)
			for i := range pairs {
				pairs[i].Left, pairs[i].Right = images[2*i], images[2*i+1]
			}
		}
		l.labels[buf] = Labels(pairs)
		l.err[buf] = l.input.Convert(pairs, l.x[buf])
	}(l.buf)
}

// NextBatch returns the input array and labels of the next batch, implements the nnet.Batcher interface.
func (l *PairLoader) NextBatch() (num.Array, []int32, error) {
	l.Wait()
	buf := l.buf
	if err := l.err[buf]; err != nil {
		return nil, nil, err
	}
	l.buf = 1 - buf
	l.loadBatch()
	return l.x[buf], l.labels[buf], nil
}

// Release waits for any pending load to complete.
func (l *PairLoader) Release() {
	l.Wait()
}

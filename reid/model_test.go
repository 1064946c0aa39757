package reid

import (
	"testing"

	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifiedIDLA(t *testing.T) {
	conf := ModifiedIDLA()
	net, err := nnet.New(num.NewDevice().NewQueue(2), conf, 4, []int{3, DefaultRows, DefaultCols})
	require.NoError(t, err)
	t.Log(net)
	assert.Equal(t, []int{2, 2}, net.OutShape())
	assert.Equal(t, "cuhk03_labeled_modified_idla", ModelName("labeled"))

	shape := net.InShape()
	expect := [][]int{
		{4, 20, 158, 58}, {4, 20, 158, 58}, {4, 20, 156, 56}, {4, 20, 156, 56}, {4, 20, 78, 28},
		{4, 25, 76, 26}, {4, 25, 76, 26}, {4, 25, 74, 24}, {4, 25, 74, 24}, {4, 25, 37, 12},
		{4, 25, 185, 60}, {4, 25, 185, 60},
		{4, 25, 37, 12}, {4, 25, 37, 12}, {4, 25, 35, 10}, {4, 25, 35, 10}, {4, 25, 17, 5},
		{2, 50, 17, 5}, {2, 4250}, {2, 500}, {2, 500}, {2, 2}, {2, 2},
	}
	require.Len(t, net.Layers, len(expect))
	for i, layer := range net.Layers {
		shape = layer.OutShape(shape)
		assert.Equal(t, expect[i], shape, "layer %d: %s", i, layer.ToString())
	}

	net.InitWeights(nnet.NewRand(1))
	x := num.NewArray(net.InShape()...)
	for i := range x.Data() {
		x.Data()[i] = float32(i%17) / 17
	}
	out := net.Fprop(x).Data()
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 1, out[2*i]+out[2*i+1], 1e-5)
	}
}

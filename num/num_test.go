package num

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestArray(t *testing.T) {
	xd := []float32{1, 1, 2, 2, 3, 3}
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(6)
	x = x.Reshape(2, 3)
	require.Equal(t, []int{2, 3}, x.Dims())
	res := make([]float32, 6)
	q.Call(
		Write(x, xd),
		Read(x, res),
	).Finish()
	assert.Equal(t, xd, res)

	y := x.Reshape(-1, 2)
	assert.Equal(t, []int{3, 2}, y.Dims())
	y.Data()[0] = 9
	assert.Equal(t, float32(9), x.Data()[0], "reshape should share data")
	assert.Panics(t, func() { x.Reshape(4, 2) })
	t.Logf("x\n%s", x)
}

func TestFromSlice(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	a := FromSlice(data, 2, 2)
	assert.Equal(t, 4, a.Size())
	data[3] = 5
	assert.Equal(t, float32(5), a.Data()[3])
	assert.Panics(t, func() { FromSlice(data, 3, 2) })
}

func TestCopy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	// tile bias vector to each row
	y := dev.NewArray(3)
	res := make([]float32, 6)
	q.Call(
		Write(y, []float32{3, 2, 1}),
		Copy(x, y),
		Read(x, res),
	).Finish()
	assert.Equal(t, []float32{3, 2, 1, 3, 2, 1}, res)
	assert.Panics(t, func() { Copy(x, dev.NewArray(4)) })
}

func TestOnehot(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	y1h := dev.NewArray(4, 3)
	res := make([]float32, 12)
	q.Call(
		Onehot([]int32{2, 1, 0, 2}, y1h),
		Read(y1h, res),
	).Finish()
	t.Logf("y1hot\n%s", y1h)
	assert.Equal(t, []float32{0, 0, 1, 0, 1, 0, 1, 0, 0, 0, 0, 1}, res)
	assert.Panics(t, func() { Onehot([]int32{0, 1}, y1h) })
}

func TestAxpy(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	y := dev.NewArray(2, 3)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{1, 1, 2, 2, 3, 3}),
		Write(y, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5}),
		Axpy(2, x, y),
		Read(y, res),
	).Finish()
	assert.Equal(t, []float32{2.5, 2.5, 4.5, 4.5, 6.5, 6.5}, res)
	q.Call(Scale(2, y), Read(y, res))
	assert.Equal(t, []float32{5, 5, 9, 9, 13, 13}, res)
}

func TestSum(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	sum := dev.NewArray(1)
	q.Call(
		Write(x, []float32{1, 2, 3, 4, 5, 6}),
		Sum(x, sum),
	)
	assert.Equal(t, float32(21), sum.Data()[0])
	// sum for each column
	colSum := dev.NewArray(3)
	ones := dev.NewArray(2)
	res := make([]float32, 3)
	q.Call(
		Fill(ones, 1),
		Gemv(1, 0, x, ones, colSum, Trans),
		Read(colSum, res),
	)
	assert.Equal(t, []float32{5, 7, 9}, res)
}

func TestGemm(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 3)
	z := dev.NewArray(2, 2)
	q.Call(Write(x, []float32{1, 2, 3, 4, 5, 6}))
	res := make([]float32, 4)
	tests := []struct {
		name  string
		y     Array
		data  []float32
		trans TransType
	}{
		{"notrans", dev.NewArray(3, 2), []float32{7, 8, 9, 10, 11, 12}, NoTrans},
		{"trans", dev.NewArray(2, 3), []float32{7, 9, 11, 8, 10, 12}, Trans},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q.Call(
				Write(test.y, test.data),
				Gemm(1, 0, x, test.y, z, NoTrans, test.trans),
				Read(z, res),
			)
			assert.Equal(t, []float32{58, 64, 139, 154}, res)
		})
	}
	assert.Panics(t, func() { Gemm(1, 0, x, x, z, NoTrans, NoTrans) })
}

func TestSoftmax(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := dev.NewArray(2, 2)
	y := dev.NewArray(2, 2)
	y1h := dev.NewArray(2, 2)
	loss := dev.NewArray(2)
	q.Call(
		Write(x, []float32{0, 0, 1000, 0}),
		Softmax(x, y),
		Onehot([]int32{1, 1}, y1h),
		SoftmaxLoss(y1h, y, loss),
	)
	assert.InDelta(t, 0.5, y.Data()[0], 1e-6)
	assert.InDelta(t, 1.0, y.Data()[2], 1e-6)
	assert.InDelta(t, 0.6931472, loss.Data()[0], 1e-5)
	// loss is clipped rather than infinite when the prediction is zero
	assert.InDelta(t, 18.42068, loss.Data()[1], 1e-3)
}

func TestRelu(t *testing.T) {
	dev := NewDevice()
	q := dev.NewQueue(1)
	x := FromSlice([]float32{-1, 0, 2}, 3)
	y := dev.NewArrayLike(x)
	dx := dev.NewArrayLike(x)
	grad := FromSlice([]float32{5, 5, 5}, 3)
	q.Call(Relu(x, y), ReluD(x, grad, dx))
	assert.Equal(t, []float32{0, 0, 2}, y.Data())
	assert.Equal(t, []float32{0, 0, 5}, dx.Data())
}

func TestProfile(t *testing.T) {
	q := NewDevice().NewQueue(2)
	q.Profiling(true)
	x := NewArray(10)
	q.Call(Fill(x, 1), Fill(x, 2), Scale(2, x))
	p := q.Profile()
	assert.Contains(t, p, "fill")
	assert.Contains(t, p, "scale")
	assert.Equal(t, 2, q.Threads())
}

func TestParallel(t *testing.T) {
	for _, threads := range []int{1, 3, 8, 20} {
		seen := make([]int, 17)
		parallel(len(seen), threads, func(worker, start, end int) {
			for i := start; i < end; i++ {
				seen[i]++
			}
		})
		for i, n := range seen {
			require.Equal(t, 1, n, "item %d threads %d", i, threads)
		}
	}
}

func randSlice(rng *rand.Rand, n int) []float32 {
	res := make([]float32, n)
	for i := range res {
		res[i] = rng.Float32()*2 - 1
	}
	return res
}

func toFloat64(x []float32) []float64 {
	res := make([]float64, len(x))
	for i, v := range x {
		res[i] = float64(v)
	}
	return res
}

func assertClose(t *testing.T, expect, got []float32, tol float64) {
	t.Helper()
	require.Equal(t, len(expect), len(got))
	if !floats.EqualApprox(toFloat64(expect), toFloat64(got), tol) {
		t.Errorf("mismatch\nexpect %v\ngot    %v", expect, got)
	}
}

func BenchmarkGemm(b *testing.B) {
	size := 100
	rng := rand.New(rand.NewSource(42))
	dev := NewDevice()
	q := dev.NewQueue(4)
	x := dev.NewArray(size, size)
	y := dev.NewArray(size, size)
	z := dev.NewArray(size, size)
	q.Call(
		Write(x, randSlice(rng, size*size)),
		Write(y, randSlice(rng, size*size)),
	)
	for i := 0; i < b.N; i++ {
		q.Call(Gemm(1, 0, x, y, z, NoTrans, NoTrans))
	}
}

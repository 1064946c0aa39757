// Package num contains numeric Array processing routines such as optimised matrix multiplication.
package num

import (
	"fmt"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

const epsilon = 1e-8

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Read data from array into a slice.
func Read(a Array, data []float32) Function {
	return newFunction("read", func(int) {
		copy(data, a.Data())
	})
}

// Write data from a slice into the given array.
func Write(a Array, data []float32) Function {
	if len(data) > a.Size() {
		panic(fmt.Sprintf("Write: data length %d exceeds array size %d", len(data), a.Size()))
	}
	return newFunction("write", func(int) {
		copy(a.Data(), data)
	})
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return newFunction("fill", func(int) {
		data := a.Data()
		for i := range data {
			data[i] = scalar
		}
	})
}

// Copy from src to dst, if src is smaller it is tiled so the last dimensions match.
// A bias vector of length n is broadcast to each row of an m x n matrix.
func Copy(dst, src Array) Function {
	if src.Size() == 0 || dst.Size()%src.Size() != 0 {
		panic(fmt.Sprintf("Copy: cannot broadcast %v to %v", src.Dims(), dst.Dims()))
	}
	return newFunction("copy", func(int) {
		d, s := dst.Data(), src.Data()
		for i := 0; i < len(d); i += len(s) {
			copy(d[i:], s)
		}
	})
}

// Scale array elements by a factor
func Scale(alpha float32, a Array) Function {
	return newFunction("scale", func(int) {
		blas32.Scal(alpha, vector(a))
	})
}

// Axpy function to calculate Y = alpha*X + Y
func Axpy(alpha float32, x, y Array) Function {
	if x.Size() != y.Size() {
		panic("Axpy: arrays must be same size")
	}
	return newFunction("axpy", func(int) {
		blas32.Axpy(alpha, vector(x), vector(y))
	})
}

// Sum all the elements in x and store the result in the scalar y
func Sum(x, y Array) Function {
	return newFunction("sum", func(int) {
		total := float32(0)
		for _, v := range x.Data() {
			total += v
		}
		y.Data()[0] = total
	})
}

// Matrix vector multiply: y = alpha*op(A)*x + beta*y
func Gemv(alpha, beta float32, A, x, y Array, aTrans TransType) Function {
	return newFunction("gemv", func(int) {
		blas32.Gemv(aTrans.blas(), alpha, matrix(A), vector(x), beta, vector(y))
	})
}

// Matrix matrix multiply: C = alpha*op(A)*op(B) + beta*C.
// Arrays with more than 2 dimensions are treated as a matrix with the first dimension as rows.
func Gemm(alpha, beta float32, A, B, C Array, aTrans, bTrans TransType) Function {
	ar, ac := rowsCols(A.Dims(), aTrans)
	br, bc := rowsCols(B.Dims(), bTrans)
	cr, cc := rowsCols(C.Dims(), NoTrans)
	if ac != br || ar != cr || bc != cc {
		panic(fmt.Sprintf("Gemm: invalid shapes %v %v %v", A.Dims(), B.Dims(), C.Dims()))
	}
	return newFunction("gemm", func(int) {
		blas32.Gemm(aTrans.blas(), bTrans.blas(), alpha, matrix(A), matrix(B), beta, matrix(C))
	})
}

// Relu activation: y = max(x, 0)
func Relu(x, y Array) Function {
	return newFunction("relu", func(int) {
		ydata := y.Data()
		for i, v := range x.Data() {
			ydata[i] = math32.Max(v, 0)
		}
	})
}

// Relu derivative: dx = grad where x > 0
func ReluD(x, grad, dx Array) Function {
	return newFunction("relu_d", func(int) {
		g, d := grad.Data(), dx.Data()
		for i, v := range x.Data() {
			if v > 0 {
				d[i] = g[i]
			} else {
				d[i] = 0
			}
		}
	})
}

// Softmax activation applied to each row of a samples x classes matrix.
func Softmax(x, y Array) Function {
	rows, cols := rowsCols(x.Dims(), NoTrans)
	return newFunction("softmax", func(int) {
		xdata, ydata := x.Data(), y.Data()
		for r := 0; r < rows; r++ {
			in, out := xdata[r*cols:(r+1)*cols], ydata[r*cols:(r+1)*cols]
			xmax := in[0]
			for _, v := range in[1:] {
				xmax = math32.Max(xmax, v)
			}
			sum := float32(0)
			for i, v := range in {
				out[i] = math32.Exp(v - xmax)
				sum += out[i]
			}
			for i := range out {
				out[i] /= sum
			}
		}
	})
}

// Multiclass log loss for softmax output, loss has one entry per sample.
func SoftmaxLoss(yOneHot, yPred, loss Array) Function {
	rows, cols := rowsCols(yPred.Dims(), NoTrans)
	return newFunction("softmax_loss", func(int) {
		y, pred, l := yOneHot.Data(), yPred.Data(), loss.Data()
		for r := 0; r < rows; r++ {
			sum := float32(0)
			for c := 0; c < cols; c++ {
				if t := y[r*cols+c]; t != 0 {
					sum -= t * math32.Log(math32.Max(pred[r*cols+c], epsilon))
				}
			}
			l[r] = sum
		}
	})
}

// Convert class labels to one hot encoded samples x classes matrix.
func Onehot(labels []int32, y1H Array) Function {
	rows, cols := rowsCols(y1H.Dims(), NoTrans)
	if len(labels) != rows {
		panic(fmt.Sprintf("Onehot: have %d labels for %d rows", len(labels), rows))
	}
	return newFunction("onehot", func(int) {
		data := y1H.Data()
		for i := range data {
			data[i] = 0
		}
		for r, label := range labels {
			if label < 0 || int(label) >= cols {
				panic(fmt.Sprintf("Onehot: label %d out of range", label))
			}
			data[r*cols+int(label)] = 1
		}
	})
}

func rowsCols(dims []int, trans TransType) (rows, cols int) {
	switch len(dims) {
	case 0:
		rows, cols = 1, 1
	case 1:
		rows, cols = dims[0], 1
	default:
		rows, cols = dims[0], Prod(dims[1:])
	}
	if trans == Trans {
		return cols, rows
	}
	return rows, cols
}

func matrix(a Array) blas32.General {
	rows, cols := rowsCols(a.Dims(), NoTrans)
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: a.Data()}
}

func vector(a Array) blas32.Vector {
	return blas32.Vector{N: a.Size(), Inc: 1, Data: a.Data()}
}

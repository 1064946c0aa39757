package num

import (
	"github.com/pkg/errors"
)

// XnbhdShape checks the input shape and window size for the cross neighborhood difference kernels
// and returns the output shape. The input has dims samples, channels, rows, cols and the samples are
// organised in adjacent pairs, so sample 2i is compared with sample 2i+1. The window must have an odd
// number of rows and columns so that it has a well defined centre.
func XnbhdShape(inShape []int, nr, nc int) ([]int, error) {
	if nr < 1 || nc < 1 || nr%2 == 0 || nc%2 == 0 {
		return nil, errors.Errorf("xnbhdDiff: window %dx%d must have odd positive dimensions", nr, nc)
	}
	if len(inShape) != 4 {
		return nil, errors.Errorf("xnbhdDiff: expect 4 dimensional input, got %v", inShape)
	}
	if inShape[0]%2 != 0 {
		return nil, errors.Errorf("xnbhdDiff: sample count %d must be even", inShape[0])
	}
	return []int{inShape[0], inShape[1], inShape[2] * nr, inShape[3] * nc}, nil
}

// XnbhdDiff computes the cross neighborhood differences of src into dst.
//
//	dst[n,k,r*nr+i,c*nc+j] = src[n,k,r,c] - src[n^1,k,r+i-nr/2,c+j-nc/2]
//
// Neighbours which fall outside the image give an output of zero.
func XnbhdDiff(src, dst Array, nr, nc int) Function {
	shape, err := XnbhdShape(src.Dims(), nr, nc)
	if err != nil {
		panic(err)
	}
	if !SameShape(shape, dst.Dims()) {
		panic(errors.Errorf("xnbhdDiff: output shape %v, expected %v", dst.Dims(), shape))
	}
	d := src.Dims()
	n, k, rows, cols := d[0], d[1], d[2], d[3]
	return newFunction("xnbhd_diff", func(threads int) {
		in, out := src.Data(), dst.Data()
		plane := rows * cols
		parallel(n*k, threads, func(worker, start, end int) {
			for pl := start; pl < end; pl++ {
				s, ch := pl/k, pl%k
				self := in[pl*plane : (pl+1)*plane]
				pair := in[((s^1)*k+ch)*plane : ((s^1)*k+ch+1)*plane]
				xnbhdPlane(self, pair, out[pl*plane*nr*nc:(pl+1)*plane*nr*nc], rows, cols, nr, nc)
			}
		})
	})
}

func xnbhdPlane(self, pair, out []float32, rows, cols, nr, nc int) {
	ocols := cols * nc
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			centre := self[r*cols+c]
			for i := 0; i < nr; i++ {
				rr := r + i - nr/2
				orow := out[(r*nr+i)*ocols+c*nc : (r*nr+i)*ocols+(c+1)*nc]
				for j := 0; j < nc; j++ {
					cc := c + j - nc/2
					if rr < 0 || rr >= rows || cc < 0 || cc >= cols {
						orow[j] = 0
					} else {
						orow[j] = centre - pair[rr*cols+cc]
					}
				}
			}
		}
	}
}

// XnbhdDiffGrad accumulates the gradient with respect to the input of XnbhdDiff given the output gradient.
// Each input pixel gets the positive gradient from every in bounds window cell where it was the centre and
// the negative gradient from every window of the paired sample in which it was a neighbour.
func XnbhdDiffGrad(grad, dsrc Array, nr, nc int) Function {
	shape, err := XnbhdShape(dsrc.Dims(), nr, nc)
	if err != nil {
		panic(err)
	}
	if !SameShape(shape, grad.Dims()) {
		panic(errors.Errorf("xnbhdDiff: gradient shape %v, expected %v", grad.Dims(), shape))
	}
	d := dsrc.Dims()
	n, k, rows, cols := d[0], d[1], d[2], d[3]
	return newFunction("xnbhd_diff_grad", func(threads int) {
		g, out := grad.Data(), dsrc.Data()
		plane := rows * cols
		oplane := plane * nr * nc
		parallel(n*k, threads, func(worker, start, end int) {
			for pl := start; pl < end; pl++ {
				s, ch := pl/k, pl%k
				self := g[pl*oplane : (pl+1)*oplane]
				pair := g[((s^1)*k+ch)*oplane : ((s^1)*k+ch+1)*oplane]
				xnbhdGradPlane(self, pair, out[pl*plane:(pl+1)*plane], rows, cols, nr, nc)
			}
		})
	})
}

func xnbhdGradPlane(self, pair, out []float32, rows, cols, nr, nc int) {
	ocols := cols * nc
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			sum := float32(0)
			for i := 0; i < nr; i++ {
				dy := i - nr/2
				for j := 0; j < nc; j++ {
					dx := j - nc/2
					// this pixel as the centre of its own window
					if rr, cc := r+dy, c+dx; rr >= 0 && rr < rows && cc >= 0 && cc < cols {
						sum += self[(r*nr+i)*ocols+c*nc+j]
					}
					// this pixel as a neighbour in the window centred at (r-dy, c-dx) of the paired sample
					if rr, cc := r-dy, c-dx; rr >= 0 && rr < rows && cc >= 0 && cc < cols {
						sum -= pair[(rr*nr+i)*ocols+cc*nc+j]
					}
				}
			}
			out[r*cols+c] = sum
		}
	}
}

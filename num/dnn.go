package num

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// ConvParams holds the convolution filter geometry.
type ConvParams struct {
	Size, Stride, Pad int
}

// OutSize returns the output height and width for the given input size.
func (p ConvParams) OutSize(h, w int) (int, int) {
	return (h+2*p.Pad-p.Size)/p.Stride + 1, (w+2*p.Pad-p.Size)/p.Stride + 1
}

// ConvShape checks the convolution parameters and returns the output shape for a samples, channels, rows, cols input.
func ConvShape(inShape []int, nfeats int, p ConvParams) ([]int, error) {
	if len(inShape) != 4 {
		return nil, errors.Errorf("conv: expect 4 dimensional input, got %v", inShape)
	}
	if p.Size < 1 || p.Stride < 1 || p.Pad < 0 || nfeats < 1 {
		return nil, errors.Errorf("conv: invalid parameters %+v nfeats=%d", p, nfeats)
	}
	h, w := p.OutSize(inShape[2], inShape[3])
	if h < 1 || w < 1 {
		return nil, errors.Errorf("conv: filter %d larger than input %v", p.Size, inShape)
	}
	return []int{inShape[0], nfeats, h, w}, nil
}

// ConvFprop computes dst = conv(src, W) + B. src has shape (N,C,H,W), W (F,C,k,k), B (F) and dst (N,F,Ho,Wo).
// Samples are split between the queue worker threads.
func ConvFprop(src, w, b, dst Array, p ConvParams) Function {
	sd, dd := src.Dims(), dst.Dims()
	n, c, h, wd := sd[0], sd[1], sd[2], sd[3]
	nf, oh, ow := dd[1], dd[2], dd[3]
	ksize := c * p.Size * p.Size
	return newFunction("conv_fprop", func(threads int) {
		wmat := blas32.General{Rows: nf, Cols: ksize, Stride: ksize, Data: w.Data()}
		bias := b.Data()
		parallel(n, threads, func(worker, start, end int) {
			col := make([]float32, ksize*oh*ow)
			cmat := blas32.General{Rows: ksize, Cols: oh * ow, Stride: oh * ow, Data: col}
			for i := start; i < end; i++ {
				in := src.Data()[i*c*h*wd : (i+1)*c*h*wd]
				out := dst.Data()[i*nf*oh*ow : (i+1)*nf*oh*ow]
				im2col(in, col, c, h, wd, oh, ow, p)
				for f := 0; f < nf; f++ {
					row := out[f*oh*ow : (f+1)*oh*ow]
					for j := range row {
						row[j] = bias[f]
					}
				}
				omat := blas32.General{Rows: nf, Cols: oh * ow, Stride: oh * ow, Data: out}
				blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, wmat, cmat, 1, omat)
			}
		})
	})
}

// ConvBprop computes the filter and bias gradients dW and dB, and the input gradient dsrc if it is not nil.
// Each worker accumulates its own filter gradient which are summed at the end.
func ConvBprop(src, w, grad, dw, db, dsrc Array, p ConvParams) Function {
	sd, gd := src.Dims(), grad.Dims()
	n, c, h, wd := sd[0], sd[1], sd[2], sd[3]
	nf, oh, ow := gd[1], gd[2], gd[3]
	ksize := c * p.Size * p.Size
	return newFunction("conv_bprop", func(threads int) {
		if threads > n {
			threads = n
		}
		wmat := blas32.General{Rows: nf, Cols: ksize, Stride: ksize, Data: w.Data()}
		dwLocal := make([][]float32, threads)
		dbLocal := make([][]float32, threads)
		parallel(n, threads, func(worker, start, end int) {
			dwl := make([]float32, nf*ksize)
			dbl := make([]float32, nf)
			col := make([]float32, ksize*oh*ow)
			cmat := blas32.General{Rows: ksize, Cols: oh * ow, Stride: oh * ow, Data: col}
			dwmat := blas32.General{Rows: nf, Cols: ksize, Stride: ksize, Data: dwl}
			for i := start; i < end; i++ {
				in := src.Data()[i*c*h*wd : (i+1)*c*h*wd]
				g := grad.Data()[i*nf*oh*ow : (i+1)*nf*oh*ow]
				gmat := blas32.General{Rows: nf, Cols: oh * ow, Stride: oh * ow, Data: g}
				im2col(in, col, c, h, wd, oh, ow, p)
				blas32.Gemm(blas.NoTrans, blas.Trans, 1, gmat, cmat, 1, dwmat)
				for f := 0; f < nf; f++ {
					for _, v := range g[f*oh*ow : (f+1)*oh*ow] {
						dbl[f] += v
					}
				}
				if dsrc != nil {
					blas32.Gemm(blas.Trans, blas.NoTrans, 1, wmat, gmat, 0, cmat)
					col2im(col, dsrc.Data()[i*c*h*wd:(i+1)*c*h*wd], c, h, wd, oh, ow, p)
				}
			}
			dwLocal[worker], dbLocal[worker] = dwl, dbl
		})
		dwData, dbData := dw.Data(), db.Data()
		for i := range dwData {
			dwData[i] = 0
		}
		for i := range dbData {
			dbData[i] = 0
		}
		for wk := range dwLocal {
			if dwLocal[wk] == nil {
				continue
			}
			blas32.Axpy(1, blas32.Vector{N: len(dwData), Inc: 1, Data: dwLocal[wk]}, blas32.Vector{N: len(dwData), Inc: 1, Data: dwData})
			for f, v := range dbLocal[wk] {
				dbData[f] += v
			}
		}
	})
}

// unroll the input patches so the convolution becomes a matrix multiply
func im2col(in, col []float32, c, h, w, oh, ow int, p ConvParams) {
	k := p.Size
	for ch := 0; ch < c; ch++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					y := oy*p.Stride + ki - p.Pad
					for ox := 0; ox < ow; ox++ {
						x := ox*p.Stride + kj - p.Pad
						if y < 0 || y >= h || x < 0 || x >= w {
							row[oy*ow+ox] = 0
						} else {
							row[oy*ow+ox] = in[(ch*h+y)*w+x]
						}
					}
				}
			}
		}
	}
}

// inverse of im2col, overlapping patches are summed
func col2im(col, out []float32, c, h, w, oh, ow int, p ConvParams) {
	for i := range out {
		out[i] = 0
	}
	k := p.Size
	for ch := 0; ch < c; ch++ {
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := col[((ch*k+ki)*k+kj)*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					y := oy*p.Stride + ki - p.Pad
					if y < 0 || y >= h {
						continue
					}
					for ox := 0; ox < ow; ox++ {
						x := ox*p.Stride + kj - p.Pad
						if x >= 0 && x < w {
							out[(ch*h+y)*w+x] += row[oy*ow+ox]
						}
					}
				}
			}
		}
	}
}

// PoolShape returns the output shape of a max pooling layer.
func PoolShape(inShape []int, size, stride int) ([]int, error) {
	if len(inShape) != 4 {
		return nil, errors.Errorf("maxPool: expect 4 dimensional input, got %v", inShape)
	}
	if size < 1 || stride < 1 || size > inShape[2] || size > inShape[3] {
		return nil, errors.Errorf("maxPool: invalid size %d stride %d for input %v", size, stride, inShape)
	}
	return []int{inShape[0], inShape[1], (inShape[2]-size)/stride + 1, (inShape[3]-size)/stride + 1}, nil
}

// MaxPoolFprop takes the maximum over each size x size window, mask records the input index of each maximum.
func MaxPoolFprop(src, dst Array, mask []int32, size, stride int) Function {
	sd, dd := src.Dims(), dst.Dims()
	h, w := sd[2], sd[3]
	oh, ow := dd[2], dd[3]
	planes := dd[0] * dd[1]
	return newFunction("maxpool_fprop", func(threads int) {
		in, out := src.Data(), dst.Data()
		parallel(planes, threads, func(worker, start, end int) {
			for pl := start; pl < end; pl++ {
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						best := float32(-math32.MaxFloat32)
						bestIx := 0
						for i := 0; i < size; i++ {
							for j := 0; j < size; j++ {
								ix := pl*h*w + (oy*stride+i)*w + ox*stride + j
								if in[ix] > best {
									best, bestIx = in[ix], ix
								}
							}
						}
						o := (pl*oh+oy)*ow + ox
						out[o] = best
						mask[o] = int32(bestIx)
					}
				}
			}
		})
	})
}

// MaxPoolBprop routes each output gradient back to the input which was the maximum.
func MaxPoolBprop(grad, dsrc Array, mask []int32) Function {
	return newFunction("maxpool_bprop", func(int) {
		g, d := grad.Data(), dsrc.Data()
		for i := range d {
			d[i] = 0
		}
		for i, ix := range mask {
			d[ix] += g[i]
		}
	})
}

package num

import (
	"fmt"
	"strings"
)

// Parameters for array printing
var (
	PrintThreshold = 12
	PrintEdgeitems = 4
)

// Array interface is a general n dimensional tensor similar to a numpy ndarray.
// Data is stored internally in row major order, so a 4 dimensional activation
// array has dims samples, channels, rows, cols.
type Array interface {
	// Dims returns the shape of the array with the outermost dimension first
	Dims() []int
	// Size is total number of elements
	Size() int
	// Reshape returns a new array of the same size with a view on the same data but with a different shape
	Reshape(dims ...int) Array
	// Reference to the raw data
	Data() []float32
	// Formatted output
	String() string
}

type arrayCPU struct {
	dims []int
	size int
	data []float32
}

func (d cpuDevice) NewArray(dims ...int) Array {
	return newArrayCPU(dims, make([]float32, Prod(dims)))
}

func (d cpuDevice) NewArrayLike(a Array) Array {
	return newArrayCPU(a.Dims(), make([]float32, a.Size()))
}

// NewArray allocates a new zeroed array with the given shape.
func NewArray(dims ...int) Array {
	return newArrayCPU(dims, make([]float32, Prod(dims)))
}

// NewArrayLike allocates a new zeroed array with the same shape as a.
func NewArrayLike(a Array) Array {
	return newArrayCPU(a.Dims(), make([]float32, a.Size()))
}

// FromSlice returns an array which is a view on the given data, the slice length must match the shape.
func FromSlice(data []float32, dims ...int) Array {
	if len(data) != Prod(dims) {
		panic(fmt.Sprintf("FromSlice: data length %d does not match shape %v", len(data), dims))
	}
	return newArrayCPU(dims, data)
}

func newArrayCPU(dims []int, data []float32) *arrayCPU {
	return &arrayCPU{dims: append([]int{}, dims...), size: Prod(dims), data: data}
}

func (a *arrayCPU) Dims() []int { return a.dims }

func (a *arrayCPU) Size() int { return a.size }

func (a *arrayCPU) Data() []float32 { return a.data }

func (a *arrayCPU) Reshape(dims ...int) Array {
	dims = append([]int{}, dims...)
	n := a.size
	for i := range dims {
		if dims[i] == -1 {
			other := 1
			for j, dim := range dims {
				if i != j {
					if dim == -1 {
						panic("Reshape: can only have single -1 value")
					}
					other *= dim
				}
			}
			dims[i] = n / other
		}
	}
	if Prod(dims) != n {
		panic("reshape must be to array of same size")
	}
	return &arrayCPU{dims: dims, size: n, data: a.data}
}

func (a *arrayCPU) String() string {
	return format(a.dims, a.data, "")
}

func format(dims []int, data []float32, indent string) string {
	switch len(dims) {
	case 0:
		return formatValue(data[0])
	case 1:
		var s strings.Builder
		s.WriteString("[")
		for i := 0; i < dims[0]; i++ {
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s.WriteString("    ... ")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s.WriteString(formatValue(data[i]))
		}
		s.WriteString("]")
		return s.String()
	default:
		bsize := Prod(dims[1:])
		var s strings.Builder
		s.WriteString("[")
		for i := 0; i < dims[0]; i++ {
			if i > 0 {
				s.WriteString("\n" + indent + " ")
			}
			if dims[0] > PrintThreshold+1 && i == PrintEdgeitems {
				s.WriteString("...")
				i = dims[0] - PrintEdgeitems - 1
				continue
			}
			s.WriteString(format(dims[1:], data[i*bsize:(i+1)*bsize], indent+" "))
		}
		s.WriteString("]")
		return s.String()
	}
}

func formatValue(val float32) string {
	if abs(val) < 1 {
		val = float32(int(10000*val+0.5)) / 10000
	}
	return fmt.Sprintf("%7.5g ", val)
}

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

// Product of elements of an integer array. Zero dimension array (scalar) has size 1.
func Prod(arr []int) int {
	prod := 1
	for _, v := range arr {
		prod *= v
	}
	return prod
}

// Check if two arrays are the same shape
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}

// Total size of one of more arrays in bytes
func Bytes(arr ...Array) (bytes int) {
	for _, a := range arr {
		if a != nil {
			bytes += 4 * a.Size()
		}
	}
	return bytes
}

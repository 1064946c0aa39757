package reid

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/img"
	"github.com/ptran/idla-person-reid/num"
)

// Input converts image pairs to network input, normalising each colour channel.
type Input struct {
	Mean   [3]float32
	StdDev [3]float32
}

// NoNorm leaves the pixel values unchanged.
var NoNorm = Input{StdDev: [3]float32{1, 1, 1}}

// LoadInput reads the normalisation settings saved with Save.
func LoadInput(filePath string) (in Input, err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return in, errors.Wrap(err, "load color stats")
	}
	defer f.Close()
	if err = json.NewDecoder(f).Decode(&in); err != nil {
		return in, errors.Wrapf(err, "decode color stats %s", filePath)
	}
	for ch, s := range in.StdDev {
		if s <= 0 {
			return in, errors.Errorf("%s: channel %d stddev must be positive", filePath, ch)
		}
	}
	return in, nil
}

// Save writes the normalisation settings as JSON.
func (in Input) Save(filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrap(err, "save color stats")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(in); err != nil {
		f.Close()
		return errors.Wrap(err, "encode color stats")
	}
	return errors.Wrap(f.Close(), "save color stats")
}

// Shape returns the network input shape for npairs pairs of rows x cols images. Both images of a pair
// are stored as adjacent samples.
func Shape(npairs, rows, cols int) []int {
	return []int{2 * npairs, 3, rows, cols}
}

// Convert writes the pairs to x which must have shape (2*len(pairs), 3, rows, cols). Sample 2i is the
// left image of pair i and sample 2i+1 the right image.
func (in Input) Convert(pairs []Pair, x num.Array) error {
	dims := x.Dims()
	if len(dims) != 4 || dims[0] != 2*len(pairs) || dims[1] != 3 {
		return errors.Errorf("input array shape %v does not match %d pairs", dims, len(pairs))
	}
	size := dims[2] * dims[3]
	data := x.Data()
	for i, p := range pairs {
		for j, m := range []*img.Image{p.Left, p.Right} {
			if m.Height != dims[2] || m.Width != dims[3] {
				return errors.Errorf("pair %d: image size %dx%d, expected %dx%d", i, m.Height, m.Width, dims[2], dims[3])
			}
			in.normalise(m, data[(2*i+j)*3*size:(2*i+j+1)*3*size])
		}
	}
	return nil
}

func (in Input) normalise(m *img.Image, buf []float32) {
	for ch := 0; ch < 3; ch++ {
		src := m.Pixels(ch)
		dst := buf[ch*len(src) : (ch+1)*len(src)]
		scale := 1 / in.StdDev[ch]
		for i, v := range src {
			dst[i] = (v - in.Mean[ch]) * scale
		}
	}
}

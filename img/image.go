// Package img contains routines for loading and manipulating sets of images.
package img

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image type stores the image data as float32 values in row major order with r, g and b color planes
// stored separately, which matches the channels, rows, cols layout of a network input sample.
type Image struct {
	Pix    []float32
	Height int
	Width  int
}

func NewRGB(width, height int) *Image {
	return &Image{Pix: make([]float32, height*width*3), Height: height, Width: width}
}

// Load decodes a jpeg or png file and resizes it to width x height.
func Load(filePath string, width, height int) (*Image, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", filePath)
	}
	return FromImage(src, width, height), nil
}

// FromImage converts from a standard image, resizing with bilinear interpolation if the size differs.
func FromImage(src image.Image, width, height int) *Image {
	b := src.Bounds()
	if b.Dx() != width || b.Dy() != height {
		src = resize.Resize(uint(width), uint(height), src, resize.Bilinear)
		b = src.Bounds()
	}
	dst := NewRGB(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// FromUint8 creates a new image from planar 8 bit pixel data.
func FromUint8(pix []uint8, width, height int) (*Image, error) {
	if len(pix) != 3*width*height {
		return nil, errors.Errorf("have %d pixels for %dx%d image", len(pix), width, height)
	}
	dst := NewRGB(width, height)
	for i, v := range pix {
		dst.Pix[i] = float32(v) / 255
	}
	return dst, nil
}

// Uint8 returns the planar pixel data scaled to 0-255.
func (m *Image) Uint8() []uint8 {
	pix := make([]uint8, len(m.Pix))
	for i, v := range m.Pix {
		pix[i] = uint8(clamp(v, 0, 1)*255 + 0.5)
	}
	return pix
}

func (m *Image) Channels() int {
	return 3
}

func (m *Image) ColorModel() color.Model {
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Image) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	plane := m.Width * m.Height
	i := y*m.Width + x
	return RGB{R: m.Pix[i], G: m.Pix[i+plane], B: m.Pix[i+2*plane]}
}

func (m *Image) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *Image) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	plane := m.Width * m.Height
	i := y*m.Width + x
	m.Pix[i] = rgb.R
	m.Pix[i+plane] = rgb.G
	m.Pix[i+2*plane] = rgb.B
}

// Pixels returns the data for one color plane, or all of the data if ch is not 0, 1 or 2.
func (m *Image) Pixels(ch int) []float32 {
	if ch >= 0 && ch <= 2 {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

// SubImage returns a view on the part of the image within r.
func (m *Image) SubImage(r image.Rectangle) image.Image {
	return &subImage{Image: m, rect: r.Intersect(m.Bounds())}
}

type subImage struct {
	*Image
	rect image.Rectangle
}

func (s *subImage) Bounds() image.Rectangle { return s.rect }

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

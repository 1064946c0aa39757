package img

import (
	"image"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/nfnt/resize"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	HorizFlip TransType = 1 << iota
	Pan
)

var transTypeNames = map[TransType]string{
	HorizFlip: "HorizFlip",
	Pan:       "Pan",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

// MaxPan is the maximum translation as a fraction of the image width and height.
var MaxPan = 0.05

// Transformer applies random translations and flips to augment the training images.
type Transformer struct {
	Trans TransType
	rng   []*rand.Rand
}

// Create a new transformer object with one random number generator per worker thread, each seeded from rng.
func NewTransformer(trans TransType, threads int, rng *rand.Rand) *Transformer {
	if threads < 1 {
		threads = 1
	}
	t := &Transformer{Trans: trans}
	for i := 0; i < threads; i++ {
		t.rng = append(t.rng, rand.New(rand.NewSource(rng.Int63())))
	}
	return t
}

// Transform a batch of images in parallel
func (t *Transformer) TransformBatch(src []*Image) []*Image {
	dst := make([]*Image, len(src))
	var wg sync.WaitGroup
	queue := make(chan int, len(t.rng))
	for thread := range t.rng {
		wg.Add(1)
		go func(thread int) {
			for i := range queue {
				dst[i] = t.Transform(src[i], thread)
			}
			wg.Done()
		}(thread)
	}
	for i := range src {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return dst
}

// Perform one or more image transforms, src is not modified.
func (t *Transformer) Transform(src *Image, thread int) *Image {
	rng := t.rng[thread]
	img := src
	if t.Trans&Pan != 0 {
		dx := int((2*rng.Float64() - 1) * MaxPan * float64(src.Width))
		dy := int((2*rng.Float64() - 1) * MaxPan * float64(src.Height))
		img = Translate(src, dx, dy)
	}
	if t.Trans&HorizFlip != 0 && rng.Float64() > 0.5 {
		img = Flip(img)
	}
	return img
}

// Translate crops the image to a window shifted by dx, dy and resizes the result back to the original size.
func Translate(src *Image, dx, dy int) *Image {
	if dx == 0 && dy == 0 {
		return src
	}
	crop := src.Bounds().Add(image.Pt(dx, dy)).Intersect(src.Bounds())
	if crop.Empty() {
		return NewRGB(src.Width, src.Height)
	}
	chip := resize.Resize(uint(src.Width), uint(src.Height), src.SubImage(crop), resize.Bilinear)
	return FromImage(chip, src.Width, src.Height)
}

// Flip returns a copy of the image mirrored left to right.
func Flip(src *Image) *Image {
	dst := NewRGB(src.Width, src.Height)
	for ch := 0; ch < 3; ch++ {
		in, out := src.Pixels(ch), dst.Pixels(ch)
		for y := 0; y < src.Height; y++ {
			row := y * src.Width
			for x := 0; x < src.Width; x++ {
				out[row+x] = in[row+src.Width-x-1]
			}
		}
	}
	return dst
}

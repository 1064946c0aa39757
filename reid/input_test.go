package reid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ptran/idla-person-reid/img"
	"github.com/ptran/idla-person-reid/num"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constImage(r, g, b float32) *img.Image {
	m := img.NewRGB(testCols, testRows)
	for ch, v := range []float32{r, g, b} {
		pix := m.Pixels(ch)
		for i := range pix {
			pix[i] = v
		}
	}
	return m
}

func TestInputConvert(t *testing.T) {
	in := Input{Mean: [3]float32{0.5, 0.25, 0}, StdDev: [3]float32{0.5, 0.25, 2}}
	pairs := []Pair{
		{Left: constImage(1, 0.5, 1), Right: constImage(0, 0, 0), Label: 1},
		{Left: constImage(0.5, 0.25, 0), Right: constImage(0.75, 1, 4), Label: 0},
	}
	x := num.NewArray(Shape(2, testRows, testCols)...)
	require.NoError(t, in.Convert(pairs, x))
	expect := [][3]float32{{1, 1, 0.5}, {-1, -1, 0}, {0, 0, 0}, {0.5, 3, 2}}
	size := testRows * testCols
	for n, e := range expect {
		for ch := 0; ch < 3; ch++ {
			start := (n*3 + ch) * size
			for _, v := range x.Data()[start : start+size] {
				assert.InDelta(t, e[ch], v, 1e-6, "sample %d channel %d", n, ch)
			}
		}
	}

	x2 := num.NewArray(Shape(1, testRows, testCols)...)
	require.NoError(t, NoNorm.Convert(pairs[:1], x2))
	assert.Equal(t, pairs[0].Left.Pix, x2.Data()[:3*size])
	assert.Equal(t, pairs[0].Right.Pix, x2.Data()[3*size:])

	assert.Error(t, in.Convert(pairs, num.NewArray(Shape(1, testRows, testCols)...)))
	assert.Error(t, in.Convert(pairs, num.NewArray(Shape(2, testRows+1, testCols)...)))
	assert.Error(t, in.Convert(pairs, num.NewArray(4, 1, testRows, testCols)))
}

func TestInputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colorstats.json")
	in := Input{Mean: [3]float32{0.4, 0.45, 0.5}, StdDev: [3]float32{0.2, 0.25, 0.3}}
	require.NoError(t, in.Save(path))
	in2, err := LoadInput(path)
	require.NoError(t, err)
	assert.Equal(t, in, in2)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"Mean":[0,0,0],"StdDev":[1,0,1]}`), 0644))
	_, err = LoadInput(bad)
	assert.Error(t, err)
	_, err = LoadInput(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

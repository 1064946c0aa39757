package reid

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptran/idla-person-reid/img"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dirPersons = 105

func writePNG(t *testing.T, path string, gray uint8) {
	m := image.NewRGBA(image.Rect(0, 0, testCols, testRows))
	for y := 0; y < testRows; y++ {
		for x := 0; x < testCols; x++ {
			m.Set(x, y, color.RGBA{R: gray, G: gray, B: 255 - gray, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, m))
	require.NoError(t, f.Close())
}

// writeTestDir creates a dataset directory with images _00 and _05 for each person except that person 10
// has only probe images and person 20 only gallery images.
func writeTestDir(t *testing.T) string {
	root := t.TempDir()
	dir := filepath.Join(root, "labeled")
	require.NoError(t, os.Mkdir(dir, 0755))
	for p := 0; p < dirPersons; p++ {
		for _, index := range []int{0, 1, 5, 9} {
			if (p == 10 && index >= 5) || (p == 20 && index < 5) || (p%2 == 1 && (index == 1 || index == 9)) {
				continue
			}
			writePNG(t, filepath.Join(dir, fmt.Sprintf("%04d_%02d.png", p, index)), uint8(p))
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("skip"), 0644))
	rng := rand.New(rand.NewSource(1))
	var sets [][]int
	for i := 0; i < NumProtocols; i++ {
		sets = append(sets, rng.Perm(dirPersons)[:ProtocolSize])
	}
	require.NoError(t, SaveTestSets(filepath.Join(root, TestSetsFile), sets))
	return root
}

func TestLoadDir(t *testing.T) {
	root := writeTestDir(t)
	d, err := LoadDir(root, "labeled", testRows, testCols)
	require.NoError(t, err)
	assert.Equal(t, "labeled", d.Kind)
	require.Len(t, d.Persons, dirPersons)
	require.Len(t, d.Protocols, NumProtocols)
	for i, p := range d.Persons {
		probes, gallery := 2, 2
		if i%2 == 1 {
			probes, gallery = 1, 1
		}
		switch i {
		case 10:
			gallery = 0
		case 20:
			probes = 0
		}
		assert.Len(t, p.Views[Probe], probes, "person %d probe", i)
		assert.Len(t, p.Views[Gallery], gallery, "person %d gallery", i)
		for _, view := range p.Views {
			for _, m := range view {
				c := m.RGBAt(1, 2)
				assert.InDelta(t, float32(i)/255, c.R, 1e-6)
				assert.InDelta(t, float32(255-i)/255, c.B, 1e-6)
			}
		}
	}

	_, err = LoadDir(root, "detected", testRows, testCols)
	assert.Error(t, err)
	_, err = LoadDir(root, "other", testRows, testCols)
	assert.Error(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, TestSetsFile)))
	_, err = LoadDir(root, "labeled", testRows, testCols)
	assert.Error(t, err)
}

func TestLoadDirResize(t *testing.T) {
	root := writeTestDir(t)
	d, err := Load(root, "labeled", 2*testRows, 3*testCols)
	require.NoError(t, err)
	m := d.Persons[0].Views[Probe][0]
	assert.Equal(t, 2*testRows, m.Height)
	assert.Equal(t, 3*testCols, m.Width)
	assert.IsType(t, &img.Image{}, m)
}

func TestParseImageName(t *testing.T) {
	tests := []struct {
		name          string
		person, index int
		ok            bool
	}{
		{"0012_07", 12, 7, true},
		{"1466_00", 1466, 0, true},
		{"12", 0, 0, false},
		{"a_01", 0, 0, false},
		{"0001_02_03", 0, 0, false},
	}
	for _, test := range tests {
		person, index, ok := parseImageName(test.name)
		assert.Equal(t, test.ok, ok, test.name)
		if test.ok {
			assert.Equal(t, test.person, person, test.name)
			assert.Equal(t, test.index, index, test.name)
		}
	}
}

func TestTestSets(t *testing.T) {
	path := filepath.Join(t.TempDir(), TestSetsFile)
	require.NoError(t, os.WriteFile(path, []byte("1,2,3\n4, 5,6\n\n"), 0644))
	sets, err := LoadTestSets(path)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}}, sets)

	require.NoError(t, os.WriteFile(path, []byte("1,2,x\n"), 0644))
	_, err = LoadTestSets(path)
	assert.Error(t, err)
}

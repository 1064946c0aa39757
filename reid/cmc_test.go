package reid

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptran/idla-person-reid/img"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// scoreFunc scores each pair independently
type scoreFunc func(p Pair) float64

func (f scoreFunc) Score(pairs []Pair) ([]float64, error) {
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = f(p)
	}
	return scores, nil
}

func sameScorer(owners map[*img.Image]owner) scoreFunc {
	return func(p Pair) float64 {
		if owners[p.Left].person == owners[p.Right].person {
			return 1
		}
		return 0
	}
}

func randomScorer(rng *rand.Rand) scoreFunc {
	return func(p Pair) float64 { return rng.Float64() }
}

func checkCurve(t *testing.T, cmc []float64, n int) {
	require.Len(t, cmc, n)
	for k := 1; k < len(cmc); k++ {
		assert.GreaterOrEqual(t, cmc[k], cmc[k-1], "rank %d", k+1)
	}
	assert.InDelta(t, 1, cmc[n-1], 1e-12)
}

func TestCMCPerfect(t *testing.T) {
	d, owners := testData(120, rand.New(rand.NewSource(11)))
	cmc, err := CMC(d, d.Protocols[0], sameScorer(owners), 10, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	checkCurve(t, cmc, ProtocolSize)
	assert.Equal(t, 1.0, Rank(cmc, 1))
}

func TestCMCRandom(t *testing.T) {
	d, _ := testData(120, rand.New(rand.NewSource(12)))
	for i := 0; i < 3; i++ {
		cmc, err := CMC(d, d.Protocols[i], randomScorer(rand.New(rand.NewSource(int64(i)))), DefaultTrials, rand.New(rand.NewSource(2)))
		require.NoError(t, err)
		checkCurve(t, cmc, ProtocolSize)
		t.Logf("rank1=%.3f rank5=%.3f rank20=%.3f", Rank(cmc, 1), Rank(cmc, 5), Rank(cmc, 20))
		assert.Less(t, Rank(cmc, 1), 0.2)
	}
}

// with equal scores the true match is placed after every person with a lower index
func TestCMCTies(t *testing.T) {
	d, _ := testData(10, rand.New(rand.NewSource(13)))
	for i := range d.Persons {
		d.Persons[i] = Person{}
		for view := range d.Persons[i].Views {
			d.Persons[i].Views[view] = []*img.Image{img.NewRGB(testCols, testRows)}
		}
	}
	protocol := []int{7, 2, 9, 0, 4}
	constant := scoreFunc(func(p Pair) float64 { return 0.5 })
	for run := 0; run < 2; run++ {
		cmc, err := CMC(d, protocol, constant, 3, rand.New(rand.NewSource(int64(run))))
		require.NoError(t, err)
		assert.True(t, floats.EqualApprox([]float64{0.2, 0.4, 0.6, 0.8, 1}, cmc, 1e-12), "%v", cmc)
	}
}

func TestCMCSkipsIncomplete(t *testing.T) {
	d, owners := testData(30, rand.New(rand.NewSource(14)))
	// person 3 has no probe images and person 5 no gallery images
	protocol := []int{1, 2, 3, 4, 5, 6}
	require.Empty(t, d.Persons[3].Views[Probe])
	require.Empty(t, d.Persons[5].Views[Gallery])
	var calls int
	scorer := scoreFunc(func(p Pair) float64 {
		calls++
		assert.NotEqual(t, 5, owners[p.Right].person)
		assert.NotEqual(t, 3, owners[p.Left].person)
		assert.NotEqual(t, 5, owners[p.Left].person)
		return rand.Float64()
	})
	cmc, err := CMC(d, protocol, scorer, 5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	checkCurve(t, cmc, len(protocol))
	assert.Equal(t, 1.0, cmc[4])
	assert.NotZero(t, calls)
}

func TestCMCErrors(t *testing.T) {
	d, owners := testData(20, rand.New(rand.NewSource(15)))
	rng := rand.New(rand.NewSource(1))
	_, err := CMC(d, []int{1, 2}, sameScorer(owners), 0, rng)
	assert.Error(t, err)
	_, err = CMC(d, nil, sameScorer(owners), 1, rng)
	assert.Error(t, err)
	_, err = CMC(d, []int{1, 20}, sameScorer(owners), 1, rng)
	assert.Error(t, err)
	_, err = CMC(d, []int{3, 5}, sameScorer(owners), 1, rng)
	assert.Error(t, err, "no usable probes")
	_, err = CMC(d, []int{1, 2}, short{}, 1, rng)
	assert.Error(t, err)
}

type short struct{}

func (short) Score(pairs []Pair) ([]float64, error) { return make([]float64, len(pairs)-1), nil }

func TestCMCFile(t *testing.T) {
	cmc := []float64{0.25, 0.5, 0.875, 1}
	var buf bytes.Buffer
	require.NoError(t, WriteCMC(&buf, cmc))
	assert.Equal(t, "0.25,0.5,0.875,1\n", buf.String())
	cmc2, err := ReadCMC(&buf)
	require.NoError(t, err)
	assert.Equal(t, cmc, cmc2)

	for _, input := range []string{"", "\n", "0.1,x,1\n"} {
		_, err = ReadCMC(bytes.NewBufferString(input))
		assert.Error(t, err, "input %q", input)
	}
	assert.Equal(t, 0.0, Rank(cmc, 0))
	assert.Equal(t, 1.0, Rank(cmc, 5))
	assert.Equal(t, 0.0, Rank(nil, 1))
	assert.Equal(t, 0.5, Rank(cmc, 2))
}

func TestAverageCMC(t *testing.T) {
	avg, err := AverageCMC([][]float64{{0.5, 1}, {0.25, 1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.375, 1}, avg)
	_, err = AverageCMC(nil)
	assert.Error(t, err)
	_, err = AverageCMC([][]float64{{0.5, 1}, {1}})
	assert.Error(t, err)
}

func TestPlotCMC(t *testing.T) {
	dir := t.TempDir()
	curves := map[string][]float64{
		"labeled":  {0.5, 0.7, 0.9, 1},
		"detected": {0.4, 0.6, 0.8, 1},
	}
	for _, name := range []string{"cmc.svg", "cmc.png"} {
		path := filepath.Join(dir, name)
		require.NoError(t, PlotCMC(path, curves))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}
	assert.Error(t, PlotCMC(filepath.Join(dir, "empty.svg"), nil))
}

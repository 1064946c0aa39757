package cmd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/num"
	"github.com/ptran/idla-person-reid/reid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPersons = 130
	// smallest image size the modified IDLA layers accept
	testSize = 28
)

// writeDataset creates a labeled dataset directory with one image in each view for every person.
func writeDataset(t *testing.T) string {
	root := t.TempDir()
	dir := filepath.Join(root, "labeled")
	require.NoError(t, os.Mkdir(dir, 0755))
	for p := 0; p < testPersons; p++ {
		for _, index := range []int{0, 5} {
			m := image.NewRGBA(image.Rect(0, 0, testSize, testSize))
			for y := 0; y < testSize; y++ {
				for x := 0; x < testSize; x++ {
					m.Set(x, y, color.RGBA{R: uint8(2*p + x), G: uint8(7*p + y), B: uint8(255 - p - index), A: 255})
				}
			}
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%04d_%02d.png", p, index)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, m))
			require.NoError(t, f.Close())
		}
	}
	rng := rand.New(rand.NewSource(1))
	var sets [][]int
	for i := 0; i < reid.NumProtocols; i++ {
		sets = append(sets, rng.Perm(testPersons)[:reid.ProtocolSize])
	}
	require.NoError(t, reid.SaveTestSets(filepath.Join(root, reid.TestSetsFile), sets))
	return root
}

func testConfig(mode, data string) Config {
	c := DefaultConfig()
	c.Mode = mode
	c.Data = data
	c.Rows, c.Cols = testSize, testSize
	c.Seed = 1
	c.Threads = 2
	return c
}

func TestTrain(t *testing.T) {
	cfg := testConfig("train", writeDataset(t))
	cfg.Out = filepath.Join(t.TempDir(), "run")
	cfg.Batch = 2
	cfg.Iterations = 3
	cfg.TestEvery = 1
	cfg.Validation = 5
	require.NoError(t, cfg.Validate())
	require.NoError(t, runTrain(context.Background(), cfg))

	model := reid.ModelName("labeled")
	for _, name := range []string{model + ".json", model + ".net", model + "_stats.json", colorStatsFile} {
		assert.FileExists(t, filepath.Join(cfg.Out, name))
	}
	stats, err := reid.LoadStats(filepath.Join(cfg.Out, model+"_stats.json"))
	require.NoError(t, err)
	require.Len(t, stats, 3)
	for i, s := range stats {
		assert.Equal(t, i+1, s.Iter)
		require.Len(t, s.Values, len(reid.StatsHeaders))
		assert.True(t, s.Values[1] >= 0 && s.Values[1] <= s.Values[2] && s.Values[2] <= 1, "%v", s.Values)
	}
	conf, err := nnet.LoadConfig(filepath.Join(cfg.Out, model+".json"))
	require.NoError(t, err)
	assert.Equal(t, 3, conf.MaxIter)
	assert.Equal(t, len(reid.ModifiedIDLA().Layers), len(conf.Layers))

	// every validation run is recorded whichever iteration the checkpoint was saved at
	cfg.Resume = true
	cfg.Iterations = 5
	require.NoError(t, runTrain(context.Background(), cfg))
	stats, err = reid.LoadStats(filepath.Join(cfg.Out, model+"_stats.json"))
	require.NoError(t, err)
	require.Len(t, stats, 5)
	assert.Equal(t, 5, stats[4].Iter)
}

func TestTrainCancel(t *testing.T) {
	cfg := testConfig("train", writeDataset(t))
	cfg.Out = t.TempDir()
	cfg.Batch = 2
	cfg.Validation = 5
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, runTrain(ctx, cfg))
	_, err := os.Stat(filepath.Join(cfg.Out, reid.ModelName("labeled")+"_stats.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestTrainErrors(t *testing.T) {
	data := writeDataset(t)
	cfg := testConfig("train", data)
	cfg.Out = t.TempDir()
	cfg.Validation = testPersons
	assert.Error(t, runTrain(context.Background(), cfg), "validation set too large")

	cfg = testConfig("train", data)
	cfg.Out = t.TempDir()
	cfg.Validation = 5
	cfg.Resume = true
	assert.Error(t, runTrain(context.Background(), cfg), "no checkpoint to resume from")

	cfg = testConfig("train", filepath.Join(data, "missing"))
	cfg.Out = t.TempDir()
	assert.Error(t, runTrain(context.Background(), cfg))
}

// saveTestCheckpoint saves an untrained network which is small enough to score every test protocol.
func saveTestCheckpoint(t *testing.T, dir string, rows, cols int) string {
	conf := nnet.DefaultConfig()
	conf.TestBatch = 8
	conf = conf.AddLayers(
		nnet.XnbhdDiff{Rows: 3, Cols: 3},
		nnet.Activation{Atype: "relu"},
		nnet.Reinterpret{Factor: 2},
		nnet.Flatten{},
		nnet.Linear{Nout: 2},
		nnet.LogRegression{},
	)
	net, err := nnet.New(num.NewDevice().NewQueue(1), conf, 2*conf.TestBatch, []int{3, rows, cols})
	require.NoError(t, err)
	net.InitWeights(nnet.NewRand(1))
	path := filepath.Join(dir, "test.net")
	require.NoError(t, net.Checkpoint(0, nil).Save(path))
	return path
}

func checkCurve(t *testing.T, cmc []float64) {
	require.Len(t, cmc, reid.ProtocolSize)
	for k := 1; k < len(cmc); k++ {
		assert.GreaterOrEqual(t, cmc[k], cmc[k-1])
	}
	assert.InDelta(t, 1, cmc[len(cmc)-1], 1e-12)
}

func TestEvaluate(t *testing.T) {
	cfg := testConfig("evaluate", writeDataset(t))
	cfg.Rows, cfg.Cols = 8, 4
	cfg.Out = t.TempDir()
	cfg.Checkpoint = saveTestCheckpoint(t, t.TempDir(), cfg.Rows, cfg.Cols)
	cfg.Protocol = 3
	cfg.Trials = 2
	cfg.Plot = true
	require.NoError(t, cfg.Validate())
	cmc, err := runEvaluate(context.Background(), cfg)
	require.NoError(t, err)
	checkCurve(t, cmc)

	f, err := os.Open(filepath.Join(cfg.Out, "cmc_protocol_3.csv"))
	require.NoError(t, err)
	defer f.Close()
	saved, err := reid.ReadCMC(f)
	require.NoError(t, err)
	assert.Equal(t, cmc, saved)
	assert.FileExists(t, filepath.Join(cfg.Out, "cmc_protocol_3.svg"))

	// same seed gives the same curve
	cmc2, err := runEvaluate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, cmc, cmc2)
}

func TestEvaluateAll(t *testing.T) {
	cfg := testConfig("evaluate", writeDataset(t))
	cfg.Rows, cfg.Cols = 8, 4
	cfg.Out = t.TempDir()
	cfg.Checkpoint = saveTestCheckpoint(t, t.TempDir(), cfg.Rows, cfg.Cols)
	cfg.All = true
	cfg.Trials = 1
	cfg.SaveName = "average"
	cmc, err := runEvaluate(context.Background(), cfg)
	require.NoError(t, err)
	checkCurve(t, cmc)
	assert.FileExists(t, filepath.Join(cfg.Out, "cmc_average.csv"))
	assert.NoFileExists(t, filepath.Join(cfg.Out, "cmc_average.svg"))

	// checkpoint for a different image size
	cfg.Rows, cfg.Cols = 6, 4
	_, err = runEvaluate(context.Background(), cfg)
	assert.Error(t, err)
}

func TestPack(t *testing.T) {
	data := writeDataset(t)
	cfg := testConfig("pack", data)
	cfg.Rows, cfg.Cols = 8, 4
	cfg.OutFile = filepath.Join(t.TempDir(), "cuhk03.h5")
	require.NoError(t, cfg.Validate())
	require.NoError(t, runPack(cfg))

	packed, err := reid.Load(cfg.OutFile, "labeled", 0, 0)
	require.NoError(t, err)
	orig, err := reid.LoadDir(data, "labeled", 8, 4)
	require.NoError(t, err)
	assert.Equal(t, orig.Protocols, packed.Protocols)
	assert.Equal(t, 8, packed.Rows)
	assert.Equal(t, 4, packed.Cols)
	require.Len(t, packed.Persons, testPersons)
	for i, p := range packed.Persons {
		for view := range p.Views {
			require.Len(t, p.Views[view], 1)
			assert.Equal(t, orig.Persons[i].Views[view][0].Uint8(), p.Views[view][0].Uint8())
		}
	}
	_, err = reid.Load(cfg.OutFile, "detected", 0, 0)
	assert.Error(t, err)
}

func TestColorStats(t *testing.T) {
	cfg := testConfig("colorstats", writeDataset(t))
	cfg.Rows, cfg.Cols = 8, 4
	cfg.OutFile = filepath.Join(t.TempDir(), colorStatsFile)
	require.NoError(t, cfg.Validate())
	in, err := runColorStats(cfg)
	require.NoError(t, err)
	for ch := 0; ch < 3; ch++ {
		assert.True(t, in.Mean[ch] > 0 && in.Mean[ch] < 1, "mean %v", in.Mean)
		assert.True(t, in.StdDev[ch] > 0, "stddev %v", in.StdDev)
	}
	saved, err := reid.LoadInput(cfg.OutFile)
	require.NoError(t, err)
	assert.Equal(t, in, saved)
}

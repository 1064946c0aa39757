package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ptran/idla-person-reid/metrics"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/num"
	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// number of points of each curve which are pushed as metrics
const pushRanks = 50

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Calculate the cumulative match curve for a trained network",
	Long: `Load a checkpoint and compute the cumulative match characteristic on the test set of one protocol,
or the average over all 20 protocols, writing the curve to cmc_<name>.csv in the output directory`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "evaluate"
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
		ctx, cancel := signalContext()
		defer cancel()
		if _, err := runEvaluate(ctx, cfg); err != nil {
			log.WithError(err).Fatal("evaluation failed")
		}
	},
}

func initEvaluate() {
	rootCmd.AddCommand(evaluateCmd)
	addDataFlags(evaluateCmd, &globalConfig)
	flags := evaluateCmd.PersistentFlags()
	flags.StringVarP(&globalConfig.Checkpoint, "checkpoint", "c", "", "network checkpoint file")
	flags.IntVarP(&globalConfig.Protocol, "protocol", "p", 0, "test protocol to evaluate")
	flags.BoolVar(&globalConfig.All, "all", false, "evaluate every protocol and average the results")
	flags.IntVar(&globalConfig.Trials, "trials", globalConfig.Trials, "number of random gallery selections per probe")
	flags.StringVarP(&globalConfig.Out, "out", "o", globalConfig.Out, "output directory")
	flags.StringVar(&globalConfig.SaveName, "name", "", "name of the saved curve, defaults to the protocol")
	flags.BoolVar(&globalConfig.Plot, "plot", false, "save a plot of the curve as svg")
	flags.StringVar(&globalConfig.ColorStats, "stats", "", "colour statistics file, defaults to colorstats.json next to the checkpoint")
	flags.Int64Var(&globalConfig.Seed, "seed", 0, "random number seed, 0 to use the current time")
	flags.IntVarP(&globalConfig.Threads, "threads", "t", globalConfig.Threads, "number of worker threads")
	flags.StringVar(&globalConfig.PushURL, "push-url", "", "prometheus pushgateway URL")
	flags.StringVar(&globalConfig.Job, "job", "", "pushgateway job name, defaults to idla_evaluate")
}

// runEvaluate returns the cumulative match curve for the selected protocol, or the average over all of
// them.
func runEvaluate(ctx context.Context, cfg Config) ([]float64, error) {
	ckpt, err := nnet.LoadCheckpoint(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	data, err := reid.Load(cfg.Data, cfg.Kind, cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}
	input, err := evalInput(cfg)
	if err != nil {
		return nil, err
	}
	q := num.NewDevice().NewQueue(cfg.Threads)
	defer q.Shutdown()
	batch := ckpt.Config.TestBatch
	if batch < 1 {
		batch = ckpt.Config.TrainBatch
	}
	net, err := nnet.New(q, ckpt.Config, 2*batch, []int{3, data.Rows, data.Cols})
	if err != nil {
		return nil, err
	}
	if err = net.SetWeights(ckpt); err != nil {
		return nil, err
	}
	scorer, err := reid.NewNetScorer(net, input)
	if err != nil {
		return nil, err
	}

	protocols := []int{cfg.Protocol}
	name := "protocol_" + strconv.Itoa(cfg.Protocol)
	if cfg.All {
		protocols = protocols[:0]
		for i := 0; i < reid.NumProtocols; i++ {
			protocols = append(protocols, i)
		}
		name = "all"
	}
	if cfg.SaveName != "" {
		name = cfg.SaveName
	}
	model := reid.ModelName(data.Kind)
	m := metrics.New(cfg.PushConfig(), prometheus.Labels{"model": model})
	rng := nnet.NewRand(cfg.Seed)
	var curves [][]float64
	for _, n := range protocols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		protocol, err := data.Protocol(n)
		if err != nil {
			return nil, err
		}
		cmc, err := reid.CMC(data, protocol, scorer, cfg.Trials, rng)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol %d", n)
		}
		logRanks(log.WithFields(log.Fields{"protocol": n, "time": time.Since(start).Round(time.Millisecond)}), cmc)
		m.Evaluation(strconv.Itoa(n), cmc, pushRanks)
		curves = append(curves, cmc)
	}
	cmc, err := reid.AverageCMC(curves)
	if err != nil {
		return nil, err
	}
	if cfg.All {
		logRanks(log.WithField("protocol", "all"), cmc)
		m.Evaluation("all", cmc, pushRanks)
	}
	if err = saveCurve(cfg, name, cmc); err != nil {
		return nil, err
	}
	if err = m.Push(ctx); err != nil {
		log.WithError(err).Warn("failed to push metrics")
	}
	return cmc, nil
}

// evalInput loads the colour statistics saved by the train command.
func evalInput(cfg Config) (reid.Input, error) {
	if cfg.ColorStats != "" {
		return reid.LoadInput(cfg.ColorStats)
	}
	path := filepath.Join(filepath.Dir(cfg.Checkpoint), colorStatsFile)
	if _, err := os.Stat(path); err != nil {
		log.Warnf("%s not found: images will not be normalised", path)
		return reid.NoNorm, nil
	}
	return reid.LoadInput(path)
}

func logRanks(entry *log.Entry, cmc []float64) {
	entry.WithFields(log.Fields{
		"rank1":  reid.Rank(cmc, 1),
		"rank5":  reid.Rank(cmc, 5),
		"rank10": reid.Rank(cmc, 10),
		"rank20": reid.Rank(cmc, 20),
	}).Info("cmc")
}

func saveCurve(cfg Config, name string, cmc []float64) error {
	path, err := cfg.outFile("cmc_" + name + ".csv")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save cmc")
	}
	if err = reid.WriteCMC(f, cmc); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "save cmc")
	}
	log.WithField("file", path).Info("saved cmc")
	if cfg.Plot {
		plotFile, err := cfg.outFile("cmc_" + name + ".svg")
		if err != nil {
			return err
		}
		return reid.PlotCMC(plotFile, map[string][]float64{name: cmc})
	}
	return nil
}

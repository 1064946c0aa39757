package cmd

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ptran/idla-person-reid/img"
	"github.com/ptran/idla-person-reid/metrics"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/num"
	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const colorStatsFile = "colorstats.json"

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the network on one CUHK03 protocol",
	Long: `Train the modified IDLA network on all persons apart from the test set of the given protocol
and a random validation set, saving a checkpoint each time the validation rank 1 accuracy improves`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "train"
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid config")
		}
		ctx, cancel := signalContext()
		defer cancel()
		if err := runTrain(ctx, cfg); err != nil {
			log.WithError(err).Fatal("training failed")
		}
	},
}

func initTrain() {
	rootCmd.AddCommand(trainCmd)
	addDataFlags(trainCmd, &globalConfig)
	flags := trainCmd.PersistentFlags()
	flags.IntVarP(&globalConfig.Protocol, "protocol", "p", 0, "test protocol held out from training")
	flags.StringVarP(&globalConfig.Out, "out", "o", globalConfig.Out, "output directory for the config, stats and checkpoint")
	flags.IntVarP(&globalConfig.Iterations, "iterations", "i", globalConfig.Iterations, "maximum number of iterations")
	flags.IntVarP(&globalConfig.Batch, "batch", "b", globalConfig.Batch, "number of image pairs per minibatch")
	flags.Float64Var(&globalConfig.Eta, "eta", globalConfig.Eta, "base learning rate")
	flags.Float64Var(&globalConfig.Gamma, "gamma", globalConfig.Gamma, "learning rate decay gamma")
	flags.Float64Var(&globalConfig.Power, "power", globalConfig.Power, "learning rate decay power")
	flags.Float64Var(&globalConfig.Lambda, "lambda", globalConfig.Lambda, "weight decay")
	flags.IntVar(&globalConfig.TestEvery, "test-every", globalConfig.TestEvery, "iterations between validation runs")
	flags.IntVar(&globalConfig.Validation, "validation", globalConfig.Validation, "number of persons in the validation set")
	flags.IntVar(&globalConfig.StopAfter, "stop-after", 0, "stop if no improvement in this many iterations")
	flags.Int64Var(&globalConfig.Seed, "seed", 0, "random number seed, 0 to use the current time")
	flags.IntVarP(&globalConfig.Threads, "threads", "t", globalConfig.Threads, "number of worker threads")
	flags.BoolVar(&globalConfig.Resume, "resume", false, "continue from the saved checkpoint")
	flags.BoolVar(&globalConfig.Augment, "augment", globalConfig.Augment, "apply random translations and flips")
	flags.BoolVar(&globalConfig.Profile, "profile", false, "log kernel profile at end of training")
	flags.StringVar(&globalConfig.ColorStats, "stats", "", "colour statistics file, computed from the training set if not given")
	flags.StringVar(&globalConfig.PushURL, "push-url", "", "prometheus pushgateway URL")
	flags.StringVar(&globalConfig.Job, "job", "", "pushgateway job name, defaults to idla_train")
}

func runTrain(ctx context.Context, cfg Config) error {
	data, err := reid.Load(cfg.Data, cfg.Kind, cfg.Rows, cfg.Cols)
	if err != nil {
		return err
	}
	rng := nnet.NewRand(cfg.Seed)
	protocol, err := data.Protocol(cfg.Protocol)
	if err != nil {
		return err
	}
	valid, err := reid.SplitValidation(data, protocol, cfg.Validation, rng)
	if err != nil {
		return err
	}
	holdout := append(append([]int{}, protocol...), valid...)
	input, err := colorStats(cfg, data, data.Complement(holdout))
	if err != nil {
		return err
	}

	// each goroutine gets its own random source
	gen, err := reid.NewGenerator(data, holdout, reid.Exclude, nnet.NewRand(rng.Int63()))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"protocol": cfg.Protocol, "train": len(gen.Pool()), "validation": len(valid)}).Info("split persons")

	model := reid.ModelName(data.Kind)
	checkpointFile, err := cfg.outFile(model + ".net")
	if err != nil {
		return err
	}
	conf := reid.ModifiedIDLA()
	var ckpt nnet.Checkpoint
	if cfg.Resume {
		if ckpt, err = nnet.LoadCheckpoint(checkpointFile); err != nil {
			return err
		}
		conf = ckpt.Config
	}
	conf = cfg.NetConfig(conf)

	dev := num.NewDevice()
	q := dev.NewQueue(cfg.Threads)
	defer q.Shutdown()
	q.Profiling(cfg.Profile)
	net, err := nnet.New(q, conf, 2*cfg.Batch, []int{3, data.Rows, data.Cols})
	if err != nil {
		return err
	}
	log.Debugf("network:\n%s", net)
	if cfg.Resume {
		if err = net.SetWeights(ckpt); err != nil {
			return err
		}
	} else {
		net.InitWeights(rng)
	}
	configFile, err := cfg.outFile(model + ".json")
	if err != nil {
		return err
	}
	if err = conf.Save(configFile); err != nil {
		return err
	}

	var trans *img.Transformer
	if cfg.Augment {
		trans = img.NewTransformer(img.Pan|img.HorizFlip, cfg.Threads, rng)
	}
	loader := reid.NewPairLoader(dev, gen, input, cfg.Batch, data.Rows, data.Cols, trans)
	defer loader.Release()

	validator := reid.NewValidator(data, valid, input, nnet.NewRand(rng.Int63()), ckpt.Stats)
	validator.StopAfter = cfg.StopAfter
	validator.CheckpointFile = checkpointFile
	if validator.StatsFile, err = cfg.outFile(model + "_stats.json"); err != nil {
		return err
	}
	validator.Metrics = metrics.New(cfg.PushConfig(), prometheus.Labels{"model": model, "holdout": strconv.Itoa(cfg.Protocol)})

	start := time.Now()
	log.WithFields(log.Fields{"model": model, "from": ckpt.Iter, "to": conf.MaxIter}).Info("start training")
	err = nnet.Train(ctx, net, loader, validator, ckpt.Iter)
	if errors.Is(err, context.Canceled) {
		log.Warn("training interrupted")
		return nil
	}
	if err == nil {
		log.WithField("time", time.Since(start).Round(time.Second)).Info("training complete")
	}
	return err
}

// colorStats loads the normalisation settings if a file is given, else they are calculated from the
// training persons and saved to the output directory.
func colorStats(cfg Config, data *reid.Dataset, persons []int) (reid.Input, error) {
	if cfg.ColorStats != "" {
		return reid.LoadInput(cfg.ColorStats)
	}
	path, err := cfg.outFile(colorStatsFile)
	if err != nil {
		return reid.Input{}, err
	}
	if _, err := os.Stat(path); err == nil && cfg.Resume {
		return reid.LoadInput(path)
	}
	var in reid.Input
	in.Mean, in.StdDev = img.ColorStats(data.Images(persons))
	for ch, s := range in.StdDev {
		if s <= 0 {
			return in, errors.Errorf("channel %d of the training images is constant", ch)
		}
	}
	return in, in.Save(path)
}

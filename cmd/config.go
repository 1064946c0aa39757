package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/ptran/idla-person-reid/metrics"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/reid"
)

// Config holds the settings for all of the commands, Mode selects which of them are validated.
type Config struct {
	Mode        string
	Data        string
	Kind        string
	Rows        int
	Cols        int
	Protocol    int
	All         bool
	Out         string
	OutFile     string
	Iterations  int
	Batch       int
	Eta         float64
	Gamma       float64
	Power       float64
	Lambda      float64
	TestEvery   int
	Validation  int
	StopAfter   int
	Seed        int64
	Threads     int
	Resume      bool
	Augment     bool
	Profile     bool
	ColorStats  string
	Checkpoint  string
	Trials      int
	Plot        bool
	SaveName    string
	PushURL     string
	Job         string
	PushRetries int
	Dir         string
	Addr        string
	User        string
	Password    string
}

// DefaultConfig returns the command defaults, the training settings are taken from nnet.DefaultConfig.
func DefaultConfig() Config {
	net := nnet.DefaultConfig()
	return Config{
		Kind:        "labeled",
		Rows:        reid.DefaultRows,
		Cols:        reid.DefaultCols,
		Out:         ".",
		Iterations:  net.MaxIter,
		Batch:       net.TrainBatch,
		Eta:         net.Eta,
		Gamma:       net.Gamma,
		Power:       net.Power,
		Lambda:      net.Lambda,
		TestEvery:   net.TestEvery,
		Validation:  reid.ProtocolSize,
		Threads:     net.Threads,
		Augment:     true,
		Trials:      reid.DefaultTrials,
		PushRetries: 3,
		Addr:        ":8080",
	}
}

func (c *Config) Validate() error {
	if c.Mode == "serve" {
		return c.validateServe()
	}
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch c.Mode {
	case "train":
		return c.validateTrain()
	case "evaluate":
		return c.validateEvaluate()
	case "pack":
		return c.validatePack()
	case "colorstats":
		if c.OutFile == "" {
			return errors.Errorf("an output file must be set with --out")
		}
		return c.validateProtocol()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}
}

func (c *Config) validateCommon() error {
	if c.Data == "" {
		return errors.Errorf("a dataset must be set with --data")
	}
	if !reid.ValidKind(c.Kind) {
		return errors.Errorf("kind must be one of %v, got %q", reid.Kinds, c.Kind)
	}
	if c.Rows < 1 || c.Cols < 1 {
		return errors.Errorf("image size must be positive, got %dx%d", c.Rows, c.Cols)
	}
	return nil
}

func (c *Config) validateProtocol() error {
	if c.Protocol < 0 || c.Protocol >= reid.NumProtocols {
		return errors.Errorf("protocol must be in the range 0..%d, got %d", reid.NumProtocols-1, c.Protocol)
	}
	return nil
}

func (c *Config) validateTrain() error {
	if err := c.validateProtocol(); err != nil {
		return err
	}
	if c.Iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Batch < 2 || c.Batch%2 != 0 {
		return errors.Errorf("batch must be an even number of pairs, got %d", c.Batch)
	}
	if c.Eta <= 0 {
		return errors.Errorf("learning rate must be positive, got %g", c.Eta)
	}
	if c.TestEvery <= 0 {
		return errors.Errorf("test-every must be positive, got %d", c.TestEvery)
	}
	if c.Validation < 1 {
		return errors.Errorf("validation set needs at least one person, got %d", c.Validation)
	}
	if c.Threads < 1 {
		return errors.Errorf("threads must be at least 1, got %d", c.Threads)
	}
	return nil
}

func (c *Config) validateEvaluate() error {
	if c.Checkpoint == "" {
		return errors.Errorf("a checkpoint file must be set with --checkpoint")
	}
	if !c.All {
		if err := c.validateProtocol(); err != nil {
			return err
		}
	}
	if c.Trials < 1 {
		return errors.Errorf("trials must be at least 1, got %d", c.Trials)
	}
	return nil
}

func (c *Config) validatePack() error {
	ext := filepath.Ext(c.OutFile)
	if ext != ".h5" && ext != ".hdf5" {
		return errors.Errorf("output file must have a .h5 extension, got %q", c.OutFile)
	}
	return nil
}

func (c *Config) validateServe() error {
	if c.Dir == "" {
		return errors.Errorf("a run directory must be set with --dir")
	}
	if !reid.ValidKind(c.Kind) {
		return errors.Errorf("kind must be one of %v, got %q", reid.Kinds, c.Kind)
	}
	if (c.User == "") != (c.Password == "") {
		return errors.Errorf("both user and password must be set to enable authentication")
	}
	return nil
}

// NetConfig applies the training settings to the network definition.
func (c *Config) NetConfig(conf nnet.Config) nnet.Config {
	conf.MaxIter = c.Iterations
	conf.TrainBatch = c.Batch
	conf.TestBatch = c.Batch
	conf.Eta = c.Eta
	conf.Gamma = c.Gamma
	conf.Power = c.Power
	conf.Lambda = c.Lambda
	conf.TestEvery = c.TestEvery
	conf.RandSeed = c.Seed
	conf.Threads = c.Threads
	conf.Profile = c.Profile
	return conf
}

// PushConfig returns the pushgateway settings, the job name defaults to idla_<mode>.
func (c *Config) PushConfig() metrics.PushConfig {
	job := c.Job
	if job == "" {
		job = "idla_" + c.Mode
	}
	return metrics.PushConfig{URL: c.PushURL, Job: job, Retries: c.PushRetries, Timeout: 10 * time.Second}
}

// outFile returns the path of a file in the output directory, creating the directory if needed.
func (c *Config) outFile(name string) (string, error) {
	if err := os.MkdirAll(c.Out, 0755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	return filepath.Join(c.Out, name), nil
}

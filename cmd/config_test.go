package cmd

import (
	"testing"

	"github.com/ptran/idla-person-reid/reid"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	valid := func(mode string) Config {
		c := DefaultConfig()
		c.Mode = mode
		c.Data = "data"
		c.Checkpoint = "model.net"
		c.OutFile = "cuhk03.h5"
		c.Dir = "."
		return c
	}
	tests := []struct {
		name   string
		mode   string
		modify func(c *Config)
		ok     bool
	}{
		{"train", "train", func(c *Config) {}, true},
		{"evaluate", "evaluate", func(c *Config) {}, true},
		{"pack", "pack", func(c *Config) {}, true},
		{"colorstats", "colorstats", func(c *Config) {}, true},
		{"serve", "serve", func(c *Config) {}, true},
		{"bad mode", "test", func(c *Config) {}, false},
		{"no data", "train", func(c *Config) { c.Data = "" }, false},
		{"bad kind", "train", func(c *Config) { c.Kind = "manual" }, false},
		{"detected", "train", func(c *Config) { c.Kind = "detected" }, true},
		{"zero rows", "evaluate", func(c *Config) { c.Rows = 0 }, false},
		{"protocol low", "train", func(c *Config) { c.Protocol = -1 }, false},
		{"protocol high", "train", func(c *Config) { c.Protocol = 20 }, false},
		{"protocol last", "train", func(c *Config) { c.Protocol = 19 }, true},
		{"odd batch", "train", func(c *Config) { c.Batch = 127 }, false},
		{"zero batch", "train", func(c *Config) { c.Batch = 0 }, false},
		{"zero iterations", "train", func(c *Config) { c.Iterations = 0 }, false},
		{"negative eta", "train", func(c *Config) { c.Eta = -0.1 }, false},
		{"no test", "train", func(c *Config) { c.TestEvery = 0 }, false},
		{"no validation", "train", func(c *Config) { c.Validation = 0 }, false},
		{"no threads", "train", func(c *Config) { c.Threads = 0 }, false},
		{"no checkpoint", "evaluate", func(c *Config) { c.Checkpoint = "" }, false},
		{"all protocols", "evaluate", func(c *Config) { c.All, c.Protocol = true, 99 }, true},
		{"protocol range", "evaluate", func(c *Config) { c.Protocol = 99 }, false},
		{"no trials", "evaluate", func(c *Config) { c.Trials = 0 }, false},
		{"pack extension", "pack", func(c *Config) { c.OutFile = "cuhk03.mat" }, false},
		{"colorstats output", "colorstats", func(c *Config) { c.OutFile = "" }, false},
		{"serve no dir", "serve", func(c *Config) { c.Dir = "" }, false},
		{"serve no data", "serve", func(c *Config) { c.Data = "" }, true},
		{"serve user only", "serve", func(c *Config) { c.User = "admin" }, false},
		{"serve auth", "serve", func(c *Config) { c.User, c.Password = "admin", "secret" }, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := valid(test.mode)
			test.modify(&c)
			err := c.Validate()
			if test.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNetConfig(t *testing.T) {
	c := DefaultConfig()
	c.Iterations, c.Batch, c.Eta, c.Seed, c.Threads = 50, 8, 0.05, 42, 2
	conf := c.NetConfig(reid.ModifiedIDLA())
	assert.Equal(t, 50, conf.MaxIter)
	assert.Equal(t, 8, conf.TrainBatch)
	assert.Equal(t, 8, conf.TestBatch)
	assert.Equal(t, 0.05, conf.Eta)
	assert.Equal(t, int64(42), conf.RandSeed)
	assert.Equal(t, 2, conf.Threads)
	assert.NotEmpty(t, conf.Layers)
}

func TestPushConfig(t *testing.T) {
	c := DefaultConfig()
	c.Mode = "train"
	c.PushURL = "http://localhost:9091"
	assert.Equal(t, "idla_train", c.PushConfig().Job)
	c.Job = "custom"
	assert.Equal(t, "custom", c.PushConfig().Job)
	assert.Equal(t, "http://localhost:9091", c.PushConfig().URL)
}

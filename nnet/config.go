package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Training configuration settings
type Config struct {
	Eta           float64
	Gamma         float64
	Power         float64
	Lambda        float64
	Momentum      float64
	Bias          float64
	NormalWeights bool
	TrainBatch    int
	TestBatch     int
	MaxIter       int
	TestEvery     int
	RandSeed      int64
	Threads       int
	DebugLevel    int
	Profile       bool
	Layers        []LayerConfig
}

// DefaultConfig returns the SGD settings used for training with an inverse learning rate policy.
func DefaultConfig() Config {
	return Config{
		Eta:        0.01,
		Gamma:      1e-4,
		Power:      0.75,
		Lambda:     0.0005,
		Momentum:   0.9,
		TrainBatch: 128,
		TestBatch:  128,
		MaxIter:    210000,
		TestEvery:  1000,
		Threads:    4,
	}
}

// LearningRate for the given iteration: eta * (1 + gamma*iter)^-power
func (c Config) LearningRate(iter int) float64 {
	return c.Eta * math.Pow(1+c.Gamma*float64(iter), -c.Power)
}

// Load config from json file
func LoadConfig(filePath string) (c Config, err error) {
	var f *os.File
	if f, err = os.Open(filePath); err != nil {
		return c, errors.Wrap(err, "load config")
	}
	defer f.Close()
	log.Infof("loading network config from %s", filePath)
	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return c, errors.Wrapf(err, "decode config %s", filePath)
	}
	return c, nil
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file, the file is written to a temporary name first and then renamed.
func (c Config) Save(filePath string) error {
	tmpPath := filepath.Join(filepath.Dir(filePath), "."+filepath.Base(filePath))
	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "save config")
	}
	log.Infof("saving network config to %s", filePath)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "save config")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "save config")
	}
	return os.Rename(tmpPath, filePath)
}

// Fields returns the names of all of the settings apart from the layer definitions.
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField()-1)
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) configString() string {
	fields := c.Fields()
	str := []string{"== Config =="}
	for _, key := range fields {
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

func (c Config) String() string {
	s := c.configString()
	if c.Layers != nil {
		str := []string{"\n== Network =="}
		for i, layer := range c.Layers {
			str = append(str, fmt.Sprintf("%2d: %s", i, layer))
		}
		s += strings.Join(str, "\n")
	}
	return s
}

func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, errors.Errorf("invalid config field: %s", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, errors.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

func (c Config) SetBool(key string, val bool) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if f.IsValid() && f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, errors.Errorf("invalid field for SetBool: %s", key)
}

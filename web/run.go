// Package web has a web based monitor for network training and evaluation runs.
package web

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/ptran/idla-person-reid/metrics"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
)

// number of points of each curve exported as metrics
const metricRanks = 20

// Run holds the state of a training run read from the files in its output directory. Fields are guarded
// by the embedded mutex.
type Run struct {
	Dir     string
	Model   string
	Conf    *nnet.Config
	Stats   []nnet.Stats
	Curves  map[string][]float64
	Updated time.Time
	metrics *metrics.Metrics
	conns   map[*websocket.Conn]bool
	wsLock  sync.Mutex
	sync.Mutex
}

// NewRun loads the current state of the run with the given model name from dir.
func NewRun(dir, model string) (*Run, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, errors.Errorf("run directory %s not found", dir)
	}
	r := &Run{
		Dir:     dir,
		Model:   model,
		metrics: metrics.New(metrics.PushConfig{}, prometheus.Labels{"model": model}),
		conns:   make(map[*websocket.Conn]bool),
	}
	return r, r.Load()
}

// ConfigFile is the path of the saved network config.
func (r *Run) ConfigFile() string {
	return filepath.Join(r.Dir, r.Model+".json")
}

// StatsFile is the path of the training stats.
func (r *Run) StatsFile() string {
	return filepath.Join(r.Dir, r.Model+"_stats.json")
}

// Registry holds the metrics for the latest stats and curves.
func (r *Run) Registry() *prometheus.Registry {
	return r.metrics.Registry()
}

// Load reads the config, stats and CMC files, any which do not exist yet are skipped.
func (r *Run) Load() error {
	r.Lock()
	defer r.Unlock()
	if conf, err := nnet.LoadConfig(r.ConfigFile()); err == nil {
		r.Conf = &conf
	} else if !os.IsNotExist(errors.Cause(err)) {
		return err
	}
	if stats, err := reid.LoadStats(r.StatsFile()); err == nil {
		r.Stats = stats
	} else if !os.IsNotExist(errors.Cause(err)) {
		return err
	}
	files, err := filepath.Glob(filepath.Join(r.Dir, "cmc_*.csv"))
	if err != nil {
		return errors.Wrap(err, "load run")
	}
	r.Curves = make(map[string][]float64)
	for _, file := range files {
		cmc, err := readCMCFile(file)
		if err != nil {
			return err
		}
		r.Curves[curveName(file)] = cmc
	}
	r.Updated = time.Now()
	r.updateMetrics()
	log.WithFields(log.Fields{"dir": r.Dir, "stats": len(r.Stats), "curves": len(r.Curves)}).Debug("loaded run")
	return nil
}

func readCMCFile(file string) ([]float64, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "load run")
	}
	defer f.Close()
	cmc, err := reid.ReadCMC(f)
	return cmc, errors.Wrap(err, file)
}

func curveName(file string) string {
	return strings.TrimSuffix(strings.TrimPrefix(filepath.Base(file), "cmc_"), ".csv")
}

func (r *Run) updateMetrics() {
	if n := len(r.Stats); n > 0 {
		s := r.Stats[n-1]
		if len(s.Values) >= len(reid.StatsHeaders) {
			r.metrics.Train(s.Iter, s.Values[0], s.LearnRate)
			r.metrics.Validation(s.Values[1], s.Values[2])
		}
	}
	for name, cmc := range r.Curves {
		r.metrics.Evaluation(name, cmc, metricRanks)
	}
}

// CurveNames returns the names of the loaded curves in sorted order.
func (r *Run) CurveNames() []string {
	names := make([]string, 0, len(r.Curves))
	for name := range r.Curves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the run whenever one of its files changes and notifies any websocket clients, it returns
// when the context is cancelled.
func (r *Run) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "watch run")
	}
	defer watcher.Close()
	if err = watcher.Add(r.Dir); err != nil {
		return errors.Wrapf(err, "watch %s", r.Dir)
	}
	log.Infof("watching %s for updates", r.Dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create|fsnotify.Write) || !r.tracked(ev.Name) {
				continue
			}
			log.WithField("file", ev.Name).Debug("run updated")
			if err := r.Load(); err != nil {
				log.WithError(err).Warn("reload run")
				continue
			}
			r.notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watch run")
		}
	}
}

// temporary files start with a dot and are renamed once complete
func (r *Run) tracked(file string) bool {
	name := filepath.Base(file)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return file == r.ConfigFile() || file == r.StatsFile() ||
		(strings.HasPrefix(name, "cmc_") && strings.HasSuffix(name, ".csv"))
}

func (r *Run) addConn(conn *websocket.Conn) {
	r.wsLock.Lock()
	r.conns[conn] = true
	r.wsLock.Unlock()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				r.removeConn(conn)
				return
			}
		}
	}()
}

func (r *Run) removeConn(conn *websocket.Conn) {
	r.wsLock.Lock()
	delete(r.conns, conn)
	r.wsLock.Unlock()
	conn.Close()
}

// notify each websocket client with the latest iteration
func (r *Run) notify() {
	r.Lock()
	iter := 0
	if n := len(r.Stats); n > 0 {
		iter = r.Stats[n-1].Iter
	}
	r.Unlock()
	msg := []byte(strconv.Itoa(iter))
	r.wsLock.Lock()
	var failed []*websocket.Conn
	for conn := range r.conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.WithError(err).Debug("error writing to websocket")
			failed = append(failed, conn)
		}
	}
	r.wsLock.Unlock()
	for _, conn := range failed {
		r.removeConn(conn)
	}
}

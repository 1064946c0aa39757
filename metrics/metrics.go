// Package metrics publishes training and evaluation progress as prometheus gauges.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
)

const namespace = "idla"

// PushConfig holds the pushgateway settings, metrics are not pushed if URL is blank.
type PushConfig struct {
	URL     string
	Job     string
	Retries int
	Timeout time.Duration
}

// Metrics holds the gauges for one training or evaluation run.
type Metrics struct {
	RunID     string
	Iter      prometheus.Gauge
	Loss      prometheus.Gauge
	LearnRate prometheus.Gauge
	Rank1     prometheus.Gauge
	Rank5     prometheus.Gauge
	CMC       *prometheus.GaugeVec
	registry  *prometheus.Registry
	pusher    *push.Pusher
}

// New creates a new set of metrics registered with their own registry. The const labels are attached to
// every metric together with a generated run id.
func New(conf PushConfig, labels prometheus.Labels) *Metrics {
	m := &Metrics{RunID: uuid.New().String(), registry: prometheus.NewRegistry()}
	constLabels := prometheus.Labels{"run_id": m.RunID}
	for k, v := range labels {
		constLabels[k] = v
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}
	m.Iter = gauge("train_iteration", "Current training iteration")
	m.Loss = gauge("train_loss", "Moving average of the training loss")
	m.LearnRate = gauge("train_learning_rate", "Current learning rate")
	m.Rank1 = gauge("validation_rank1", "Validation set rank 1 match rate")
	m.Rank5 = gauge("validation_rank5", "Validation set rank 5 match rate")
	m.CMC = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "eval_cmc",
		Help:        "Cumulative match rate by test protocol and rank",
		ConstLabels: constLabels,
	}, []string{"protocol", "rank"})
	m.registry.MustRegister(m.Iter, m.Loss, m.LearnRate, m.Rank1, m.Rank5, m.CMC)

	if conf.URL != "" {
		job := conf.Job
		if job == "" {
			job = namespace
		}
		client := retryablehttp.NewClient()
		client.RetryMax = conf.Retries
		client.Logger = nil
		if conf.Timeout > 0 {
			client.HTTPClient.Timeout = conf.Timeout
		}
		m.pusher = push.New(conf.URL, job).Gatherer(m.registry).Client(client.StandardClient())
	}
	return m
}

// Registry returns the registry holding the metrics, e.g. to serve them with promhttp.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Train records the training progress.
func (m *Metrics) Train(iter int, loss, learnRate float64) {
	m.Iter.Set(float64(iter))
	m.Loss.Set(loss)
	m.LearnRate.Set(learnRate)
}

// Validation records the validation match rates.
func (m *Metrics) Validation(rank1, rank5 float64) {
	m.Rank1.Set(rank1)
	m.Rank5.Set(rank5)
}

// Evaluation records the first maxRank points of a cumulative match curve.
func (m *Metrics) Evaluation(protocol string, cmc []float64, maxRank int) {
	for k, v := range cmc {
		if k >= maxRank {
			break
		}
		m.CMC.WithLabelValues(protocol, strconv.Itoa(k+1)).Set(v)
	}
}

// Push sends the current values to the pushgateway, it does nothing if no URL was configured.
func (m *Metrics) Push(ctx context.Context) error {
	if m.pusher == nil {
		return nil
	}
	if err := m.pusher.PushContext(ctx); err != nil {
		return errors.Wrap(err, "push metrics")
	}
	log.WithField("run_id", m.RunID).Debug("pushed metrics")
	return nil
}

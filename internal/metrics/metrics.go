package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/minerctl/internal/events"
)

const namespace = "minerctl"

const collectorBuffer = 128

// States lists the supervisor states exported by the state gauge.
var States = []string{"idle", "starting", "running", "stopping"}

// Collector turns bus events into Prometheus series.
type Collector struct {
	registry *prometheus.Registry

	hashrate    prometheus.Gauge
	power       prometheus.Gauge
	temperature prometheus.Gauge
	shares      *prometheus.GaugeVec
	state       *prometheus.GaugeVec
	generation  prometheus.Gauge
	blocks      prometheus.Counter
	tuning      *prometheus.CounterVec
	warnings    *prometheus.CounterVec
	exits       prometheus.Counter
}

// New creates a collector on a private registry labelled with rig.
// dropped, when non-nil, is exported as the bus drop counter.
func New(rig string, dropped func() uint64) *Collector {
	labels := prometheus.Labels{"rig": rig}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		hashrate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "hashrate_mhs",
			Help: "Last reported miner hashrate in MH/s.", ConstLabels: labels,
		}),
		power: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "power_watts",
			Help: "Last reported GPU power draw.", ConstLabels: labels,
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "temperature_celsius",
			Help: "Last reported GPU core temperature.", ConstLabels: labels,
		}),
		shares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "shares",
			Help: "Share counts of the current miner run.", ConstLabels: labels,
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "1 for the current supervisor state, 0 otherwise.", ConstLabels: labels,
		}, []string{"state"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "generation",
			Help: "Generation of the current or last miner run.", ConstLabels: labels,
		}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_found_total",
			Help: "Solo blocks announced by the miner.", ConstLabels: labels,
		}),
		tuning: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tuning_applies_total",
			Help: "Tuning profile applications by phase and outcome.", ConstLabels: labels,
		}, []string{"phase", "outcome"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "warnings_total",
			Help: "Operator warnings by code.", ConstLabels: labels,
		}, []string{"code"}),
		exits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "unexpected_exits_total",
			Help: "Miner runs that ended with an error.", ConstLabels: labels,
		}),
	}

	c.registry.MustRegister(
		c.hashrate, c.power, c.temperature, c.shares, c.state,
		c.generation, c.blocks, c.tuning, c.warnings, c.exits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if dropped != nil {
		c.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_dropped_events_total",
			Help: "Events dropped because a subscriber was full.", ConstLabels: labels,
		}, func() float64 { return float64(dropped()) }))
	}

	c.setState("idle")
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Handle updates the series for one event.
func (c *Collector) Handle(e events.Event) {
	switch ev := e.(type) {
	case events.SnapshotEvent:
		s := ev.Snapshot
		c.hashrate.Set(s.Hashrate)
		c.power.Set(s.Power)
		c.temperature.Set(s.Temperature)
		c.shares.WithLabelValues("accepted").Set(float64(s.Accepted))
		c.shares.WithLabelValues("rejected").Set(float64(s.Rejected))
		c.shares.WithLabelValues("invalid").Set(float64(s.Invalid))
	case events.StateChanged:
		c.setState(ev.To)
		c.generation.Set(float64(ev.Generation))
		if ev.Err != "" {
			c.exits.Inc()
		}
		if ev.To == "starting" {
			c.hashrate.Set(0)
			c.power.Set(0)
			c.temperature.Set(0)
			c.shares.Reset()
		}
	case events.BlockFound:
		c.blocks.Inc()
	case events.TuningResult:
		c.tuning.WithLabelValues(ev.Phase, ev.Outcome).Inc()
	case events.Warning:
		c.warnings.WithLabelValues(ev.Code).Inc()
	}
}

func (c *Collector) setState(current string) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(s).Set(v)
	}
}

// Run feeds events from bus into the collector until ctx is done or the
// bus is closed.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(collectorBuffer,
		events.KindSnapshot, events.KindStateChanged, events.KindBlockFound,
		events.KindTuning, events.KindWarning)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			c.Handle(e)
		}
	}
}

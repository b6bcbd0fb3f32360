package sandbox

import (
	"context"
	"sync"
	"time"

	"github.com/go-lynx/pluginhost/internal/blockingpool"
	"github.com/go-lynx/pluginhost/plugins"
	"github.com/prometheus/client_golang/prometheus"
)

// breachLevel tracks which edge a (plugin, resource) pair currently sits
// on, so re-breaching while already past an edge is a no-op.
type breachLevel int

const (
	levelNone breachLevel = iota
	levelSoft
	levelHard
)

type governedPlugin struct {
	pluginID  string
	rootPID   int32
	container Container
	cancel    context.CancelFunc
	histories map[Resource]*History
	limits    map[Resource]LimitRecord
	levels    map[Resource]breachLevel
	levelsMu  sync.Mutex
}

// Governor samples every governed plugin's resource usage at
// monitoring_interval and enforces configured soft/hard limits. One sampler
// goroutine per plugin serializes that plugin's samples; enforcement
// actions run on a dedicated pool so a slow Suspend/Terminate never stalls
// another plugin's sweep.
type Governor struct {
	mu       sync.Mutex
	plugins  map[string]*governedPlugin
	interval time.Duration
	emitter  plugins.EventEmitter
	pool     *blockingpool.Pool
	metrics  *metrics
}

// NewGovernor constructs a Governor. emitter receives SoftLimitBreached,
// HardLimitBreached, and LimitRecovered events; pool runs enforcement
// actions off the sampling goroutines; reg registers Prometheus metrics (nil
// disables registration, e.g. in tests).
func NewGovernor(interval time.Duration, emitter plugins.EventEmitter, pool *blockingpool.Pool, reg prometheus.Registerer) *Governor {
	return &Governor{
		plugins:  make(map[string]*governedPlugin),
		interval: ClampInterval(interval),
		emitter:  emitter,
		pool:     pool,
		metrics:  newMetrics(reg),
	}
}

// Enable creates a container for pluginID's process rootPID, applies
// limits, and starts its sampler. The container outlives the process it
// governs: it is created before assignment and closed only after sampling
// has stopped.
func (g *Governor) Enable(pluginID string, rootPID int32, limits []LimitRecord) error {
	g.mu.Lock()
	if _, exists := g.plugins[pluginID]; exists {
		g.mu.Unlock()
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeAlreadyEnabled, pluginID, "sandbox_enable", "plugin already governed", nil)
	}
	g.mu.Unlock()

	container, err := NewContainer()
	if err != nil {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeInitFailed, pluginID, "sandbox_enable", err.Error(), err)
	}
	if err := container.Assign(int(rootPID)); err != nil {
		container.Close()
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeInitFailed, pluginID, "sandbox_enable", err.Error(), err)
	}

	gp := &governedPlugin{
		pluginID:  pluginID,
		rootPID:   rootPID,
		container: container,
		histories: make(map[Resource]*History),
		limits:    make(map[Resource]LimitRecord),
		levels:    make(map[Resource]breachLevel),
	}
	for _, l := range limits {
		gp.limits[l.Resource] = l
		retention := l.MeasurementPeriod * 10
		if retention <= 0 {
			retention = 10 * time.Minute
		}
		gp.histories[l.Resource] = NewHistory(4096, retention)
		gp.levels[l.Resource] = levelNone
	}
	// Always keep at least a CPU/Mem history for get_resource_usage queries
	// even when no limit is configured for them.
	for _, r := range []Resource{ResourceCPUPercent, ResourceMemMB} {
		if _, ok := gp.histories[r]; !ok {
			gp.histories[r] = NewHistory(4096, 10*time.Minute)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	gp.cancel = cancel

	g.mu.Lock()
	g.plugins[pluginID] = gp
	g.mu.Unlock()

	go sampleLoop(ctx, rootPID, g.interval, gp.histories, func(resource Resource, value float64) {
		g.onSample(gp, resource, value)
	})
	return nil
}

// Disable stops sampling for pluginID, then tears down its container —
// in that order, so a sampler never reads a dead container.
func (g *Governor) Disable(pluginID string) error {
	g.mu.Lock()
	gp, ok := g.plugins[pluginID]
	if ok {
		delete(g.plugins, pluginID)
	}
	g.mu.Unlock()
	if !ok {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, pluginID, "sandbox_disable", "plugin not governed", nil)
	}

	gp.cancel()
	if g.pool != nil {
		return g.pool.Submit(context.Background(), gp.container.Close)
	}
	return gp.container.Close()
}

// Terminate force-kills pluginID's container outside of the regular
// sample-driven enforcement path. The lifecycle engine uses it to escalate
// a timed-out plugin_teardown call without waiting for a sample to cross
// any hard limit.
func (g *Governor) Terminate(pluginID string) error {
	g.mu.Lock()
	gp, exists := g.plugins[pluginID]
	g.mu.Unlock()
	if !exists {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, pluginID, "sandbox_terminate", "plugin not governed", nil)
	}
	run := func() error {
		err := gp.container.Terminate()
		if err == nil {
			g.metrics.actionsApplied.WithLabelValues(pluginID, "teardown_timeout", string(ActionTerminate)).Inc()
		}
		return err
	}
	if g.pool != nil {
		return g.pool.Submit(context.Background(), run)
	}
	return run()
}

// onSample evaluates the rolling average for resource after a new sample
// lands, detecting soft/hard rising edges and the soft falling edge.
func (g *Governor) onSample(gp *governedPlugin, resource Resource, value float64) {
	limit, hasLimit := gp.limits[resource]
	h := gp.histories[resource]
	g.metrics.usage.WithLabelValues(gp.pluginID, string(resource)).Set(value)
	if !hasLimit || h == nil {
		return
	}

	avg, ok := h.RollingAverage(time.Now(), limit.MeasurementPeriod)
	if !ok {
		return
	}

	gp.levelsMu.Lock()
	prev := gp.levels[resource]
	var next breachLevel
	switch {
	case avg >= limit.HardLimit:
		next = levelHard
	case avg >= limit.SoftLimit:
		next = levelSoft
	default:
		next = levelNone
	}
	gp.levels[resource] = next
	gp.levelsMu.Unlock()

	if next == prev {
		return
	}

	switch {
	case next == levelSoft && prev == levelNone:
		g.metrics.softBreaches.WithLabelValues(gp.pluginID, string(resource)).Inc()
		g.emit(plugins.EventSoftLimitBreached, gp.pluginID, map[string]any{"resource": string(resource), "value": avg})
	case next == levelHard:
		g.metrics.hardBreaches.WithLabelValues(gp.pluginID, string(resource)).Inc()
		g.emit(plugins.EventHardLimitBreached, gp.pluginID, map[string]any{"resource": string(resource), "value": avg, "action": string(limit.BreachAction)})
		g.enforce(gp, resource, limit.BreachAction)
	case next == levelNone && prev != levelNone:
		g.metrics.recoveries.WithLabelValues(gp.pluginID, string(resource)).Inc()
		g.emit(plugins.EventLimitRecovered, gp.pluginID, map[string]any{"resource": string(resource)})
	}
}

// enforce runs action on gp's container via the blocking pool so a slow
// Suspend/Terminate never stalls the sampling sweep for another plugin.
func (g *Governor) enforce(gp *governedPlugin, resource Resource, action Action) {
	run := func() error {
		var err error
		switch action {
		case ActionWarn:
		case ActionThrottle:
			err = gp.container.Throttle()
		case ActionSuspend:
			err = gp.container.Suspend()
		case ActionTerminate:
			err = gp.container.Terminate()
		}
		if err == nil {
			g.metrics.actionsApplied.WithLabelValues(gp.pluginID, string(resource), string(action)).Inc()
		}
		return err
	}
	if g.pool != nil {
		_ = g.pool.Submit(context.Background(), run)
		return
	}
	_ = run()
}

func (g *Governor) emit(eventType plugins.EventType, pluginID string, metadata map[string]any) {
	if g.emitter == nil {
		return
	}
	g.emitter.EmitEvent(plugins.PluginEvent{
		Type:      eventType,
		Priority:  plugins.PriorityHigh,
		PluginID:  pluginID,
		Source:    "sandbox",
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	})
}

// Usage returns the rolling average, peak, and most recent sample for
// pluginID's resource, for the get_resource_usage command surface.
func (g *Governor) Usage(pluginID string, resource Resource) (avg float64, peak float64, recent Sample, ok bool) {
	g.mu.Lock()
	gp, exists := g.plugins[pluginID]
	g.mu.Unlock()
	if !exists {
		return 0, 0, Sample{}, false
	}
	h, exists := gp.histories[resource]
	if !exists {
		return 0, 0, Sample{}, false
	}
	period := time.Minute
	if limit, ok := gp.limits[resource]; ok {
		period = limit.MeasurementPeriod
	}
	avg, _ = h.RollingAverage(time.Now(), period)
	peak, _ = h.Peak()
	recent, hasRecent := h.MostRecent()
	return avg, peak, recent, hasRecent
}

// Limits returns the configured limit records for pluginID.
func (g *Governor) Limits(pluginID string) []LimitRecord {
	g.mu.Lock()
	gp, exists := g.plugins[pluginID]
	g.mu.Unlock()
	if !exists {
		return nil
	}
	out := make([]LimitRecord, 0, len(gp.limits))
	for _, l := range gp.limits {
		out = append(out, l)
	}
	return out
}

// UpdateLimits replaces pluginID's limit records, resetting breach levels so
// the new thresholds are evaluated fresh.
func (g *Governor) UpdateLimits(pluginID string, limits []LimitRecord) error {
	g.mu.Lock()
	gp, exists := g.plugins[pluginID]
	g.mu.Unlock()
	if !exists {
		return plugins.NewPluginErrorWithCode(plugins.ErrorCodeNotFound, pluginID, "update_limits", "plugin not governed", nil)
	}

	gp.levelsMu.Lock()
	defer gp.levelsMu.Unlock()
	gp.limits = make(map[Resource]LimitRecord, len(limits))
	gp.levels = make(map[Resource]breachLevel, len(limits))
	for _, l := range limits {
		gp.limits[l.Resource] = l
		gp.levels[l.Resource] = levelNone
		if _, ok := gp.histories[l.Resource]; !ok {
			gp.histories[l.Resource] = NewHistory(4096, l.MeasurementPeriod*10)
		}
	}
	return nil
}

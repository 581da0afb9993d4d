// Package monitor runs the periodic alert check loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricealerts/internal/events"
	"pricealerts/internal/models"
	"pricealerts/internal/price"

	"go.uber.org/zap"
)

var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
	ErrStopping       = errors.New("monitor is stopping")
	ErrStopTimeout    = errors.New("monitor did not stop within the grace period")
	ErrIntervalFloor  = errors.New("check interval below minimum")
)

// AlertStore is the part of the alert store the monitor reads and writes.
type AlertStore interface {
	ListActive(ctx context.Context) ([]*models.Alert, error)
	Get(ctx context.Context, id int64) (*models.Alert, error)
	Update(ctx context.Context, id int64, mutate func(*models.Alert) error) (*models.Alert, error)
	Stats(ctx context.Context, userIdentifier string) (models.AlertStats, error)
}

type PriceResolver interface {
	Resolve(ctx context.Context, base, quote string) (price.Quote, error)
}

type Notifier interface {
	Deliver(ctx context.Context, webhookURL string, alert *models.Alert, basePrice, ratio float64) error
}

// Publisher receives an event after each persisted trigger.
type Publisher interface {
	Publish(ctx context.Context, ev events.TriggerEvent) error
}

// Config holds the loop timings. Zero values take the defaults.
type Config struct {
	Interval          time.Duration
	MinInterval       time.Duration
	StopTimeout       time.Duration
	RestartPause      time.Duration
	ErrorBackoff      time.Duration
	Workers           int
	PersistRetries    int
	PersistRetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		MinInterval:       5 * time.Second,
		StopTimeout:       10 * time.Second,
		RestartPause:      time.Second,
		ErrorBackoff:      60 * time.Second,
		Workers:           1,
		PersistRetries:    3,
		PersistRetryDelay: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.MinInterval == 0 {
		c.MinInterval = d.MinInterval
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.RestartPause == 0 {
		c.RestartPause = d.RestartPause
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	if c.PersistRetries < 1 {
		c.PersistRetries = d.PersistRetries
	}
	if c.PersistRetryDelay == 0 {
		c.PersistRetryDelay = d.PersistRetryDelay
	}
	return c
}

// Deps are the collaborators of a Monitor. Locker defaults to a LocalLocker;
// Publisher is optional.
type Deps struct {
	Store     AlertStore
	Prices    PriceResolver
	Notifier  Notifier
	Locker    Locker
	Publisher Publisher
}

type State int

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// CycleStats summarises one pass over the eligible alerts.
type CycleStats struct {
	ID         string        `json:"id"`
	Checked    int           `json:"checked"`
	Triggered  int           `json:"triggered"`
	Errors     int           `json:"errors"`
	Deferred   int           `json:"deferred"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

type Status struct {
	Running              bool               `json:"running"`
	State                string             `json:"state"`
	CheckInterval        time.Duration      `json:"-"`
	CheckIntervalSeconds float64            `json:"check_interval_seconds"`
	LastCycle            *CycleStats        `json:"last_cycle,omitempty"`
	Alerts               *models.AlertStats `json:"alerts,omitempty"`
	PendingPersist       int                `json:"pending_persist"`
}

// Monitor periodically evaluates every active, untriggered alert. It is
// safe for concurrent use.
type Monitor struct {
	cfg       Config
	store     AlertStore
	prices    PriceResolver
	notifier  Notifier
	locker    Locker
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     State
	interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	lastCycle *CycleStats

	pendingMu sync.Mutex
	pending   map[int64]time.Time
}

func New(cfg Config, deps Deps, logger *zap.Logger) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if cfg.Interval < cfg.MinInterval {
		return nil, fmt.Errorf("%w: %s < %s", ErrIntervalFloor, cfg.Interval, cfg.MinInterval)
	}
	if deps.Store == nil || deps.Prices == nil || deps.Notifier == nil {
		return nil, errors.New("monitor requires a store, a price resolver and a notifier")
	}
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	return &Monitor{
		cfg:       cfg,
		store:     deps.Store,
		prices:    deps.Prices,
		notifier:  deps.Notifier,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		logger:    logger,
		now:       time.Now,
		interval:  cfg.Interval,
		pending:   make(map[int64]time.Time),
	}, nil
}

// Start launches the loop. It fails unless the monitor is stopped.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Running:
		return ErrAlreadyRunning
	case Stopping:
		return ErrStopping
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done, m.state = cancel, done, Running
	monitorRunning.Set(1)

	go m.run(ctx, done)

	m.logger.Info("Alert monitor started", zap.Duration("interval", m.interval))
	return nil
}

// Stop cancels the loop and waits up to StopTimeout for the in-flight cycle
// to finish. On timeout the loop still exits at its next checkpoint.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	switch m.state {
	case Stopped:
		m.mu.Unlock()
		return ErrNotRunning
	case Stopping:
		m.mu.Unlock()
		return ErrStopping
	}
	m.state = Stopping
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		m.logger.Info("Alert monitor stopped")
		return nil
	case <-timer.C:
		m.logger.Warn("Alert monitor stop timed out, cycle still in flight", zap.Duration("timeout", m.cfg.StopTimeout))
		return ErrStopTimeout
	}
}

// Restart stops the loop if it runs, pauses, and starts it again.
func (m *Monitor) Restart() error {
	if err := m.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	time.Sleep(m.cfg.RestartPause)
	return m.Start()
}

func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Running
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Interval returns the current wait between cycles.
func (m *Monitor) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetInterval changes the wait between cycles, effective after the current wait.
func (m *Monitor) SetInterval(d time.Duration) error {
	if d < m.cfg.MinInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalFloor, d, m.cfg.MinInterval)
	}
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
	m.logger.Info("Alert monitor interval updated", zap.Duration("interval", d))
	return nil
}

// LastCycle returns a copy of the most recent cycle stats, if any.
func (m *Monitor) LastCycle() *CycleStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastCycle == nil {
		return nil
	}
	c := *m.lastCycle
	return &c
}

// Status reports the loop state. Alert counts are best effort.
func (m *Monitor) Status(ctx context.Context) Status {
	m.mu.Lock()
	st := Status{
		Running:              m.state == Running,
		State:                m.state.String(),
		CheckInterval:        m.interval,
		CheckIntervalSeconds: m.interval.Seconds(),
	}
	if m.lastCycle != nil {
		c := *m.lastCycle
		st.LastCycle = &c
	}
	m.mu.Unlock()

	st.PendingPersist = m.pendingCount()

	if stats, err := m.store.Stats(ctx, ""); err != nil {
		m.logger.Warn("Failed to load alert statistics", zap.Error(err))
	} else {
		st.Alerts = &stats
	}
	return st
}

// ForceCheck runs one cycle synchronously, outside the schedule.
func (m *Monitor) ForceCheck(ctx context.Context) (CycleStats, error) {
	return m.safeCycle(ctx)
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.state = Stopped
			m.cancel = nil
			m.done = nil
		}
		m.mu.Unlock()
		monitorRunning.Set(0)
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		wait := m.Interval()
		if _, err := m.safeCycle(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("Alert check cycle failed, backing off",
				zap.Duration("backoff", m.cfg.ErrorBackoff),
				zap.Error(err),
			)
			wait = m.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// safeCycle runs CheckAll and converts a panic escaping it into an error.
func (m *Monitor) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			cyclesTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return m.CheckAll(ctx)
}

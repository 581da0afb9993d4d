package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/models"
	"pricealerts/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeTriggered
	outcomeError
	outcomeDeferred
)

var errAlreadyTriggered = errors.New("alert already triggered")

// CheckAll runs one cycle: it reloads the eligible alerts and evaluates each
// one independently. Per-alert failures are counted, never returned. The
// returned error is reserved for failures of the cycle itself.
func (m *Monitor) CheckAll(ctx context.Context) (CycleStats, error) {
	ctx, span := otel.Tracer(tracing.TracerName).Start(ctx, "monitor.CheckAll")
	defer span.End()

	stats := CycleStats{ID: uuid.NewString(), StartedAt: m.now()}
	span.SetAttributes(attribute.String("cycle_id", stats.ID))

	skip := m.retryPending(ctx)

	alerts, err := m.store.ListActive(ctx)
	if err != nil {
		cyclesTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stats, fmt.Errorf("list active alerts: %w", err)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, m.cfg.Workers)
	)

	for i, a := range alerts {
		if _, ok := skip[a.ID]; ok {
			continue
		}
		if !acquire(ctx, sem) {
			mu.Lock()
			stats.Deferred += countUnskipped(alerts[i:], skip)
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func(a *models.Alert) {
			defer wg.Done()
			defer func() { <-sem }()

			res := m.checkAlert(ctx, a)

			mu.Lock()
			defer mu.Unlock()
			switch res {
			case outcomeDeferred:
				stats.Deferred++
				return
			case outcomeTriggered:
				stats.Triggered++
			case outcomeError:
				stats.Errors++
			}
			stats.Checked++
		}(a)
	}
	wg.Wait()

	stats.Duration = time.Since(stats.StartedAt)
	stats.DurationMS = stats.Duration.Milliseconds()

	cyclesTotal.WithLabelValues("ok").Inc()
	cycleDuration.Observe(stats.Duration.Seconds())
	alertsChecked.Add(float64(stats.Checked))
	span.SetAttributes(
		attribute.Int("checked", stats.Checked),
		attribute.Int("triggered", stats.Triggered),
		attribute.Int("errors", stats.Errors),
		attribute.Int("deferred", stats.Deferred),
	)

	m.mu.Lock()
	last := stats
	m.lastCycle = &last
	m.mu.Unlock()

	m.logger.Info("Alert check cycle completed",
		zap.String("cycle_id", stats.ID),
		zap.Int("checked", stats.Checked),
		zap.Int("triggered", stats.Triggered),
		zap.Int("errors", stats.Errors),
		zap.Int("deferred", stats.Deferred),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func countUnskipped(alerts []*models.Alert, skip map[int64]struct{}) int {
	n := 0
	for _, a := range alerts {
		if _, ok := skip[a.ID]; !ok {
			n++
		}
	}
	return n
}

// acquire takes a worker slot unless ctx is cancelled first.
func acquire(ctx context.Context, sem chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case sem <- struct{}{}:
	}
	if ctx.Err() != nil {
		<-sem
		return false
	}
	return true
}

// checkAlert runs resolve, evaluate, deliver and persist for one alert.
// In-flight I/O is not interrupted by ctx; cancellation is honoured up to
// the delivery step, after which the trigger is always persisted.
func (m *Monitor) checkAlert(ctx context.Context, a *models.Alert) (res outcome) {
	work := context.WithoutCancel(ctx)
	work, span := otel.Tracer(tracing.TracerName).Start(work, "monitor.checkAlert")
	defer span.End()
	span.SetAttributes(attribute.Int64("alert_id", a.ID), attribute.String("pair", a.Pair()))

	log := m.logger.With(zap.Int64("alert_id", a.ID), zap.String("pair", a.Pair()))

	defer func() {
		if r := recover(); r != nil {
			alertErrors.WithLabelValues("panic").Inc()
			log.Error("Alert check panicked", zap.Any("panic", r))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			res = outcomeError
		}
	}()

	fail := func(stage string, err error) outcome {
		alertErrors.WithLabelValues(stage).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcomeError
	}

	unlock, ok, err := m.locker.TryLock(work, a.ID)
	if err != nil {
		log.Warn("Failed to lock alert", zap.Error(err))
		return fail("lock", err)
	}
	if !ok {
		log.Debug("Alert is being checked elsewhere, skipping")
		return outcomeSkipped
	}
	defer unlock()

	// Re-read under the lock so external changes and concurrent triggers are seen.
	current, err := m.store.Get(work, a.ID)
	if errors.Is(err, database.ErrNotFound) {
		return outcomeSkipped
	}
	if err != nil {
		log.Warn("Failed to reload alert", zap.Error(err))
		return fail("store", err)
	}
	if !current.Eligible() {
		return outcomeSkipped
	}

	quote, err := m.prices.Resolve(work, current.BaseCurrency, current.QuoteCurrency)
	if err != nil {
		log.Warn("Price unavailable, skipping alert this cycle", zap.Error(err))
		return fail("price", err)
	}
	span.SetAttributes(attribute.Float64("ratio", quote.Ratio))

	if !current.ShouldTrigger(quote.Ratio) {
		return outcomeSkipped
	}

	if ctx.Err() != nil {
		log.Info("Cycle cancelled before delivery, deferring alert")
		return outcomeDeferred
	}

	if err := m.notifier.Deliver(work, current.WebhookURL, current, quote.BasePrice, quote.Ratio); err != nil {
		deliveriesTotal.WithLabelValues("failed").Inc()
		log.Warn("Delivery failed, alert stays eligible", zap.Error(err))
		return fail("delivery", err)
	}
	deliveriesTotal.WithLabelValues("sent").Inc()

	triggeredAt := m.now()
	updated, err := m.persistTrigger(work, a.ID, triggeredAt)
	if err != nil {
		m.addPending(a.ID, triggeredAt)
		log.Error("Delivered but failed to persist trigger, will retry the write",
			zap.Time("triggered_at", triggeredAt),
			zap.Error(err),
		)
		return fail("persist", err)
	}

	alertsTriggered.Inc()
	log.Info("Alert triggered",
		zap.String("condition", string(current.ConditionType)),
		zap.Float64("target", current.TargetPrice),
		zap.Float64("ratio", quote.Ratio),
	)
	m.publish(work, updated, quote.BasePrice, quote.Ratio)
	return outcomeTriggered
}

// persistTrigger marks id triggered, retrying only the write. A record that
// is already triggered or was deleted counts as done.
func (m *Monitor) persistTrigger(ctx context.Context, id int64, at time.Time) (*models.Alert, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.PersistRetries; attempt++ {
		updated, err := m.store.Update(ctx, id, func(a *models.Alert) error {
			if a.IsTriggered {
				return errAlreadyTriggered
			}
			a.MarkTriggered(at)
			return nil
		})
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, errAlreadyTriggered), errors.Is(err, database.ErrNotFound):
			return nil, nil
		}

		lastErr = err
		if attempt < m.cfg.PersistRetries {
			time.Sleep(m.cfg.PersistRetryDelay)
		}
	}
	return nil, lastErr
}

func (m *Monitor) addPending(id int64, at time.Time) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if _, ok := m.pending[id]; !ok {
		m.pending[id] = at
	}
}

func (m *Monitor) pendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

// retryPending re-attempts trigger writes for alerts that were delivered in
// an earlier cycle. Ids that still fail, or are left untried because ctx was
// cancelled, stay pending and are returned so the cycle does not deliver
// them again.
func (m *Monitor) retryPending(ctx context.Context) map[int64]struct{} {
	m.pendingMu.Lock()
	pending := make(map[int64]time.Time, len(m.pending))
	for id, at := range m.pending {
		pending[id] = at
	}
	m.pendingMu.Unlock()

	skip := make(map[int64]struct{})
	for id, at := range pending {
		if ctx.Err() != nil {
			skip[id] = struct{}{}
			continue
		}
		updated, err := m.persistTrigger(context.WithoutCancel(ctx), id, at)
		if err != nil {
			skip[id] = struct{}{}
			m.logger.Error("Pending trigger write still failing", zap.Int64("alert_id", id), zap.Error(err))
			continue
		}

		m.pendingMu.Lock()
		delete(m.pending, id)
		m.pendingMu.Unlock()

		if updated != nil {
			alertsTriggered.Inc()
			m.logger.Info("Pending trigger persisted", zap.Int64("alert_id", id))
			m.publish(ctx, updated, 0, 0)
		}
	}
	return skip
}

func (m *Monitor) publish(ctx context.Context, a *models.Alert, basePrice, ratio float64) {
	if m.publisher == nil || a == nil {
		return
	}
	ev := events.NewTriggerEvent(a, basePrice, ratio)
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("Failed to publish trigger event", zap.Int64("alert_id", a.ID), zap.Error(err))
	}
}

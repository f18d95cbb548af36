package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/models"
)

const (
	safeMessage  = "Safe Worker: Helmet and safety jacket detected"
	alertMessage = "ALERT: Missing safety gear - "
)

// HistoryRecorder persists delivery attempts
type HistoryRecorder interface {
	Record(ctx context.Context, rec models.AlertRecord) error
}

// Observer receives dispatcher counters, normally prometheus collectors
type Observer interface {
	AlertQueued(kind models.EventKind)
	AlertDropped(kind models.EventKind)
	AlertDelivered(kind models.EventKind, transport string, err error)
}

// Options tunes the dispatcher
type Options struct {
	Cooldown        time.Duration
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
	Clock           func() time.Time
	History         HistoryRecorder
	Observer        Observer
}

// Dispatcher decides when a state change deserves a notification or alert
// and delivers it on a bounded worker pool so the capture loop never waits
// on the network.
type Dispatcher struct {
	opts       Options
	deliverers []models.Deliverer
	logger     zerolog.Logger

	cooldownMu sync.Mutex
	lastSent   map[models.EventKind]time.Time

	queueMu sync.RWMutex
	queue   chan models.AlertEvent
	closed  bool
	wg      sync.WaitGroup
}

// NewDispatcher starts the delivery workers
func NewDispatcher(opts Options, deliverers ...models.Deliverer) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	d := &Dispatcher{
		opts:       opts,
		deliverers: deliverers,
		logger:     log.With().Str("service", "alerting").Logger(),
		lastSent:   make(map[models.EventKind]time.Time),
		queue:      make(chan models.AlertEvent, opts.QueueSize),
	}

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	names := make([]string, 0, len(deliverers))
	for _, dl := range deliverers {
		names = append(names, dl.Name())
	}
	d.logger.Info().
		Dur("cooldown", opts.Cooldown).
		Int("workers", opts.Workers).
		Int("queue_size", opts.QueueSize).
		Strs("transports", names).
		Msg("Alert dispatcher initialized")

	return d
}

// Evaluate inspects a freshly published state. SAFE states may produce a
// NOTIFICATION and UNSAFE states an ALERT, each kind limited by its own
// cooldown. The cooldown restarts when the event is emitted, whatever the
// delivery outcome. missing is only called for UNSAFE states.
func (d *Dispatcher) Evaluate(state models.DetectionState, missing func() []string) *models.AlertEvent {
	var kind models.EventKind
	switch state.OverallStatus {
	case models.OverallSafe:
		kind = models.EventNotification
	case models.OverallUnsafe:
		kind = models.EventAlert
	default:
		return nil
	}

	now := d.opts.Clock()
	if !d.claimCooldown(kind, now) {
		return nil
	}

	event := models.AlertEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    state.OverallStatus,
		Summary:   state.Summary,
		Timestamp: now,
	}
	if kind == models.EventNotification {
		event.Message = safeMessage
	} else {
		if missing != nil {
			event.Missing = missing()
		}
		event.Message = alertMessage + strings.Join(event.Missing, ", ")
	}

	d.enqueue(event)
	return &event
}

// claimCooldown reports whether kind may fire at now and, if so, records now
// as its last attempt
func (d *Dispatcher) claimCooldown(kind models.EventKind, now time.Time) bool {
	d.cooldownMu.Lock()
	defer d.cooldownMu.Unlock()

	if last, ok := d.lastSent[kind]; ok && now.Sub(last) < d.opts.Cooldown {
		return false
	}
	d.lastSent[kind] = now
	return true
}

func (d *Dispatcher) enqueue(event models.AlertEvent) {
	d.queueMu.RLock()
	defer d.queueMu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("event_id", event.ID).Msg("Dispatcher closed, dropping event")
		d.observeDropped(event.Kind)
		return
	}

	select {
	case d.queue <- event:
		if d.opts.Observer != nil {
			d.opts.Observer.AlertQueued(event.Kind)
		}
	default:
		d.logger.Warn().
			Str("event_id", event.ID).
			Str("kind", string(event.Kind)).
			Msg("Alert queue full, dropping event")
		d.observeDropped(event.Kind)
	}
}

func (d *Dispatcher) observeDropped(kind models.EventKind) {
	if d.opts.Observer != nil {
		d.opts.Observer.AlertDropped(kind)
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for event := range d.queue {
		d.deliver(event)
	}
	d.logger.Debug().Int("worker", id).Msg("Alert worker exited")
}

func (d *Dispatcher) deliver(event models.AlertEvent) {
	if len(d.deliverers) == 0 {
		d.record(event, "", nil)
		return
	}

	for _, dl := range d.deliverers {
		err := d.deliverOne(dl, event)
		if d.opts.Observer != nil {
			d.opts.Observer.AlertDelivered(event.Kind, dl.Name(), err)
		}
		if err != nil {
			d.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("kind", string(event.Kind)).
				Str("transport", dl.Name()).
				Msg("Alert delivery failed")
		} else {
			d.logger.Info().
				Str("event_id", event.ID).
				Str("kind", string(event.Kind)).
				Str("transport", dl.Name()).
				Str("message", event.Message).
				Msg("Alert delivered")
		}
		d.record(event, dl.Name(), err)
	}
}

// deliverOne bounds a single attempt by the delivery timeout and turns a
// panicking transport into an error
func (d *Dispatcher) deliverOne(dl models.Deliverer, event models.AlertEvent) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("transport", dl.Name()).Msg("Deliverer panicked")
			err = errors.New("deliverer panicked")
		}
	}()

	return dl.Deliver(ctx, event)
}

func (d *Dispatcher) record(event models.AlertEvent, transport string, err error) {
	if d.opts.History == nil {
		return
	}

	rec := models.AlertRecord{
		EventID:   event.ID,
		Kind:      event.Kind,
		Status:    string(event.Status),
		Message:   event.Message,
		Transport: transport,
		Delivered: err == nil,
		Timestamp: event.Timestamp,
	}
	if err != nil {
		rec.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliveryTimeout)
	defer cancel()
	if herr := d.opts.History.Record(ctx, rec); herr != nil {
		d.logger.Warn().Err(herr).Str("event_id", event.ID).Msg("Failed to record alert history")
	}
}

// Shutdown stops accepting events and waits for queued deliveries
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queueMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.queueMu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("Alert dispatcher shutdown")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

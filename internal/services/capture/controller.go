// Package capture runs the single camera worker: read, detect, match,
// publish, alert, render.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ppe-safety-worker/internal/logging"
	"ppe-safety-worker/internal/models"
	"ppe-safety-worker/internal/services/compliance"
)

// Source is an open camera handle owned by the worker goroutine
type Source interface {
	Read(ctx context.Context) (*models.RawFrame, error)
	Close() error
}

// SourceOpener acquires the camera at the start of a session
type SourceOpener interface {
	Open(ctx context.Context) (Source, error)
}

// OpenerFunc adapts a function to SourceOpener
type OpenerFunc func(ctx context.Context) (Source, error)

func (f OpenerFunc) Open(ctx context.Context) (Source, error) { return f(ctx) }

// Detector finds objects in a frame
type Detector interface {
	Detect(ctx context.Context, frame *models.RawFrame) ([]models.Detection, error)
}

// Resizer scales a frame to a fixed resolution
type Resizer interface {
	Resize(frame *models.RawFrame, width, height int) (*models.RawFrame, error)
}

// Renderer draws overlays and encodes the frame for streaming
type Renderer interface {
	Render(result *models.FrameResult) ([]byte, error)
}

// FramePublisher hands encoded frames to stream consumers. CloseAll ends
// every stream when the worker exits; Reopen accepts new streams again.
type FramePublisher interface {
	PublishFrame(jpeg []byte)
	CloseAll()
	Reopen()
}

// StatePublisher stores the latest detection state
type StatePublisher interface {
	Publish(summary models.FrameSummary, helmetAny, jacketAny bool, overall models.OverallStatus) models.DetectionState
}

// AlertEvaluator decides whether a state deserves a notification or alert
type AlertEvaluator interface {
	Evaluate(state models.DetectionState, missing func() []string) *models.AlertEvent
}

// Metrics receives loop counters
type Metrics interface {
	FrameProcessed(d time.Duration)
	FrameSkipped(reason string)
	DetectorError(detector string, err error)
	SessionChanged(state models.SessionState)
}

// Options tunes the loop
type Options struct {
	ConfidenceThreshold float64
	HelmetLabel         string
	JacketLabel         string
	PersonLabel         string
	MaxFrameDimension   int
	ResizeWidth         int
	ResizeHeight        int
	StartWaitTimeout    time.Duration
	DetectorTimeout     time.Duration
	StatsInterval       int
}

// Deps are the collaborators the worker drives. Person, Alerts, Resizer,
// Render, Metrics and Logger may be nil.
type Deps struct {
	Opener  SourceOpener
	PPE     Detector
	Person  Detector
	Resizer Resizer
	Render  Renderer
	Frames  FramePublisher
	State   StatePublisher
	Alerts  AlertEvaluator
	Metrics Metrics
	Logger  *zerolog.Logger
}

// Controller owns the capture session. At most one worker is alive at any
// time. Concurrent Starts are serialised by the lifecycle mutex; Stop only
// takes the state mutex. Neither is held across camera or detector calls.
type Controller struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	lifecycle sync.Mutex

	mu      sync.Mutex
	state   models.SessionState
	lastErr string
	cancel  context.CancelFunc
	done    chan struct{}
	session uint64

	frames atomic.Int64
}

func NewController(opts Options, deps Deps) (*Controller, error) {
	if deps.Opener == nil || deps.PPE == nil || deps.State == nil || deps.Frames == nil {
		return nil, fmt.Errorf("%w: capture controller needs an opener, a PPE detector, a state store and a frame publisher", models.ErrConfiguration)
	}
	if opts.ConfidenceThreshold == 0 {
		opts.ConfidenceThreshold = compliance.DefaultThreshold
	}
	if opts.StartWaitTimeout <= 0 {
		opts.StartWaitTimeout = 2 * time.Second
	}
	if opts.DetectorTimeout <= 0 {
		opts.DetectorTimeout = 5 * time.Second
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 30
	}

	logger := log.With().Str("service", "capture").Logger()
	if deps.Logger != nil {
		logger = *deps.Logger
	}

	return &Controller{
		opts:   opts,
		deps:   deps,
		logger: logger,
		state:  models.SessionIdle,
	}, nil
}

// Start launches the worker. Calling it while RUNNING is a no-op. If the
// previous worker is still releasing the camera Start waits up to
// StartWaitTimeout and then fails with ErrResourceBusy. The last published
// detection state stays readable until the new session's first frame.
func (c *Controller) Start() (models.SessionInfo, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.state == models.SessionRunning {
		info := c.infoLocked()
		c.mu.Unlock()
		c.logger.Debug().Msg("Start ignored, capture already running")
		return info, nil
	}
	prev := c.done
	c.mu.Unlock()

	if prev != nil {
		timer := time.NewTimer(c.opts.StartWaitTimeout)
		select {
		case <-prev:
			timer.Stop()
		case <-timer.C:
			c.logger.Warn().Dur("waited", c.opts.StartWaitTimeout).Msg("Previous worker still holds the camera")
			return c.Info(), models.ErrResourceBusy
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.deps.Frames.Reopen()
	c.frames.Store(0)

	c.mu.Lock()
	c.state = models.SessionRunning
	c.lastErr = ""
	c.cancel = cancel
	c.done = done
	c.session++
	session := c.session
	info := c.infoLocked()
	c.mu.Unlock()

	c.observeState(models.SessionRunning)

	go c.run(ctx, session, done)

	c.logger.Info().Uint64("session", session).Msg("Capture started")
	return info, nil
}

// Stop asks the worker to exit after its current frame. It does not wait,
// not even for a Start that is waiting on the previous worker.
func (c *Controller) Stop() models.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != models.SessionRunning {
		return c.infoLocked()
	}

	c.state = models.SessionStopping
	c.cancel()
	c.observeState(models.SessionStopping)
	c.logger.Info().Uint64("session", c.session).Msg("Capture stop requested")
	return c.infoLocked()
}

// Shutdown stops the worker and waits for the camera to be released
func (c *Controller) Shutdown(ctx context.Context) error {
	c.Stop()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info reports the session state
func (c *Controller) Info() models.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

// State reports the session state only
func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) infoLocked() models.SessionInfo {
	return models.SessionInfo{State: c.state, LastError: c.lastErr, Frames: c.frames.Load()}
}

func (c *Controller) run(ctx context.Context, session uint64, done chan struct{}) {
	logger := logging.WithSession(c.logger, session)
	var failure error

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Capture worker panicked")
			failure = fmt.Errorf("worker panic: %v", r)
		}
		// leave RUNNING first so no new stream subscribes after CloseAll
		c.finish(failure, logger)
		c.deps.Frames.CloseAll()
		close(done)
	}()

	src, err := c.deps.Opener.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failure = wrapCamera(err)
		logger.Error().Err(failure).Msg("Failed to open camera")
		return
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warn().Err(err).Msg("Error releasing camera")
		}
	}()

	logger.Info().Msg("Camera opened, entering capture loop")

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("Capture loop cancelled")
			return
		}

		frame, err := src.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logger.Info().Msg("Capture loop cancelled during read")
			case errors.Is(err, io.EOF):
				logger.Info().Int64("frames", c.frames.Load()).Msg("End of stream")
			default:
				failure = wrapCamera(err)
				logger.Error().Err(failure).Msg("Cannot read frame")
			}
			return
		}

		c.processFrame(ctx, frame, logger)
	}
}

// finish moves the session to its terminal state once the worker is done
func (c *Controller) finish(failure error, logger zerolog.Logger) {
	c.mu.Lock()
	if failure != nil {
		c.state = models.SessionError
		c.lastErr = failure.Error()
	} else {
		c.state = models.SessionIdle
	}
	state := c.state
	c.mu.Unlock()

	c.observeState(state)
	logger.Info().Str("state", state.String()).Int64("frames", c.frames.Load()).Msg("Capture worker exited")
}

// processFrame runs one iteration. Errors here are frame scoped: they are
// logged and counted, never returned.
func (c *Controller) processFrame(ctx context.Context, frame *models.RawFrame, logger zerolog.Logger) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Int64("frame_id", frame.FrameID).Msg("Recovered from panic while processing frame")
			c.skip("panic")
		}
	}()

	frame = c.downscale(frame, logger)
	if frame == nil {
		c.skip("resize")
		return
	}

	ppe, ok := c.detect(ctx, "ppe", c.deps.PPE, frame, logger)
	if !ok {
		c.skip("ppe_detector")
		return
	}

	var persons []models.Detection
	if c.deps.Person != nil {
		persons, ok = c.detect(ctx, "person", c.deps.Person, frame, logger)
		if !ok {
			c.skip("person_detector")
			return
		}
		persons = filterLabel(persons, c.opts.PersonLabel)
	}

	helmets, jackets := compliance.SplitPPE(ppe, c.opts.HelmetLabel, c.opts.JacketLabel)
	roster, summary := compliance.Match(persons, helmets, jackets, c.opts.ConfidenceThreshold)
	summary.Timestamp = frame.Timestamp
	helmetAny, jacketAny, overall := compliance.Aggregate(roster)

	state := c.deps.State.Publish(summary, helmetAny, jacketAny, overall)

	if c.deps.Alerts != nil {
		c.deps.Alerts.Evaluate(state, func() []string { return compliance.MissingItems(roster) })
	}

	count := c.frames.Add(1)

	if c.deps.Render != nil {
		ppeShown := make([]models.Detection, 0, len(helmets)+len(jackets))
		ppeShown = append(append(ppeShown, helmets...), jackets...)
		result := &models.FrameResult{
			Frame:      frame,
			PPE:        ppeShown,
			Persons:    persons,
			Roster:     roster,
			Summary:    summary,
			State:      state,
			Processing: time.Since(start),
		}
		jpeg, err := c.deps.Render.Render(result)
		if err != nil {
			logger.Warn().Err(err).Int64("frame_id", frame.FrameID).Msg("Failed to render frame")
		} else {
			c.deps.Frames.PublishFrame(jpeg)
		}
	}

	elapsed := time.Since(start)
	if c.deps.Metrics != nil {
		c.deps.Metrics.FrameProcessed(elapsed)
	}
	if count%int64(c.opts.StatsInterval) == 0 {
		logger.Info().
			Int64("frames", count).
			Int("persons", summary.PersonCount).
			Int("safe", summary.SafeCount).
			Int("unsafe", summary.UnsafeCount).
			Str("status", string(overall)).
			Dur("frame_time", elapsed).
			Msg("Capture progress")
	}
}

// downscale returns frame unchanged unless an axis exceeds the bound
func (c *Controller) downscale(frame *models.RawFrame, logger zerolog.Logger) *models.RawFrame {
	limit := c.opts.MaxFrameDimension
	if c.deps.Resizer == nil || limit <= 0 || (frame.Width <= limit && frame.Height <= limit) {
		return frame
	}

	resized, err := c.deps.Resizer.Resize(frame, c.opts.ResizeWidth, c.opts.ResizeHeight)
	if err != nil {
		logger.Warn().Err(err).Int("width", frame.Width).Int("height", frame.Height).Msg("Failed to downscale frame")
		return nil
	}
	return resized
}

// detect runs one detector. A malformed result counts as an empty set; any
// other failure skips the frame. Stop does not cancel the call, so the frame
// in flight completes; only DetectorTimeout bounds it.
func (c *Controller) detect(ctx context.Context, name string, d Detector, frame *models.RawFrame, logger zerolog.Logger) ([]models.Detection, bool) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.DetectorTimeout)
	defer cancel()

	dets, err := d.Detect(dctx, frame)
	if err == nil {
		return dets, true
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.DetectorError(name, err)
	}
	if errors.Is(err, models.ErrInvalidDetectionFormat) {
		logger.Warn().Err(err).Str("detector", name).Int64("frame_id", frame.FrameID).Msg("Invalid detection format, treating as no detections")
		return nil, true
	}

	logger.Warn().Err(err).Str("detector", name).Int64("frame_id", frame.FrameID).Msg("Detector failed, skipping frame")
	return nil, false
}

func (c *Controller) skip(reason string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.FrameSkipped(reason)
	}
}

func (c *Controller) observeState(state models.SessionState) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionChanged(state)
	}
}

func filterLabel(dets []models.Detection, label string) []models.Detection {
	if label == "" {
		return dets
	}
	label = strings.ToLower(label)
	out := dets[:0:0]
	for _, d := range dets {
		if strings.Contains(strings.ToLower(d.ClassLabel), label) {
			out = append(out, d)
		}
	}
	return out
}

func wrapCamera(err error) error {
	if errors.Is(err, models.ErrCameraUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrCameraUnavailable, err)
}

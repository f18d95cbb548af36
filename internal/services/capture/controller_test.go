package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ppe-safety-worker/internal/models"
	"ppe-safety-worker/internal/services/state"
)

type fakeSource struct {
	limit     int64 // frames before EOF, negative for endless
	readErr   error
	served    atomic.Int64
	closed    atomic.Bool
	closeGate chan struct{}
	readGate  chan struct{} // reads block until closed
	stamp     time.Time
	width     int
	height    int
}

func (s *fakeSource) Read(ctx context.Context) (*models.RawFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.readGate != nil {
		select {
		case <-s.readGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := s.served.Add(1)
	if s.limit >= 0 && n > s.limit {
		if s.readErr != nil {
			return nil, s.readErr
		}
		return nil, io.EOF
	}
	time.Sleep(time.Millisecond)
	w, h := s.width, s.height
	if w == 0 {
		w, h = 4, 4
	}
	ts := s.stamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &models.RawFrame{Data: make([]byte, w*h*3), Width: w, Height: h, FrameID: n, Timestamp: ts}, nil
}

func (s *fakeSource) Close() error {
	if s.closeGate != nil {
		<-s.closeGate
	}
	s.closed.Store(true)
	return nil
}

type detectorFunc func(ctx context.Context, frame *models.RawFrame) ([]models.Detection, error)

func (f detectorFunc) Detect(ctx context.Context, frame *models.RawFrame) ([]models.Detection, error) {
	return f(ctx, frame)
}

type recordingFrames struct {
	published atomic.Int64
	closed    atomic.Int64
	reopened  atomic.Int64
	onClose   func()
}

func (r *recordingFrames) PublishFrame([]byte) { r.published.Add(1) }
func (r *recordingFrames) Reopen()             { r.reopened.Add(1) }

func (r *recordingFrames) CloseAll() {
	if r.onClose != nil {
		r.onClose()
	}
	r.closed.Add(1)
}

type countingMetrics struct {
	processed      atomic.Int64
	detectorErrors atomic.Int64
}

func (m *countingMetrics) FrameProcessed(time.Duration)      { m.processed.Add(1) }
func (m *countingMetrics) FrameSkipped(string)               {}
func (m *countingMetrics) DetectorError(string, error)       { m.detectorErrors.Add(1) }
func (m *countingMetrics) SessionChanged(models.SessionState) {}

type stubRenderer struct{}

func (stubRenderer) Render(*models.FrameResult) ([]byte, error) { return []byte("jpeg"), nil }

type recordingEvaluator struct {
	mu      sync.Mutex
	states  []models.DetectionState
	missing [][]string
}

func (e *recordingEvaluator) Evaluate(s models.DetectionState, missing func() []string) *models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, s)
	e.missing = append(e.missing, missing())
	return nil
}

type recordingResizer struct{ calls atomic.Int64 }

func (r *recordingResizer) Resize(frame *models.RawFrame, w, h int) (*models.RawFrame, error) {
	r.calls.Add(1)
	return &models.RawFrame{Data: make([]byte, w*h*3), Width: w, Height: h, FrameID: frame.FrameID}, nil
}

var (
	worker = models.Detection{ClassLabel: "person", Confidence: 0.9, Box: models.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	helmet = models.Detection{ClassLabel: "safety-helmet", Confidence: 0.9, Box: models.Box{X1: 40, Y1: 5, X2: 60, Y2: 25}}
	jacket = models.Detection{ClassLabel: "reflective-jacket", Confidence: 0.9, Box: models.Box{X1: 30, Y1: 40, X2: 70, Y2: 80}}
)

func personDetector() Detector {
	return detectorFunc(func(context.Context, *models.RawFrame) ([]models.Detection, error) {
		return []models.Detection{worker}, nil
	})
}

func fullPPE() Detector {
	return detectorFunc(func(context.Context, *models.RawFrame) ([]models.Detection, error) {
		return []models.Detection{helmet, jacket}, nil
	})
}

type harness struct {
	ctrl   *Controller
	store  *state.Store
	frames *recordingFrames
	opens  atomic.Int64
}

func newHarness(t *testing.T, opts Options, deps Deps, sources ...*fakeSource) *harness {
	t.Helper()
	h := &harness{store: state.NewStore(), frames: &recordingFrames{}}

	if deps.Opener == nil {
		deps.Opener = OpenerFunc(func(context.Context) (Source, error) {
			n := h.opens.Add(1)
			idx := int(n - 1)
			if idx >= len(sources) {
				idx = len(sources) - 1
			}
			return sources[idx], nil
		})
	}
	if deps.PPE == nil {
		deps.PPE = fullPPE()
	}
	deps.State = h.store
	deps.Frames = h.frames
	if deps.Render == nil {
		deps.Render = stubRenderer{}
	}
	if opts.HelmetLabel == "" {
		opts.HelmetLabel = "safety-helmet"
		opts.JacketLabel = "reflective-jacket"
		opts.PersonLabel = "person"
	}

	ctrl, err := NewController(opts, deps)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.ctrl = ctrl
	return h
}

func shutdown(t *testing.T, ctrl *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := NewController(Options{}, Deps{})
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestStartIsIdempotentAndStopKeepsLastState(t *testing.T) {
	src := &fakeSource{limit: -1}
	h := newHarness(t, Options{}, Deps{Person: personDetector()}, src)

	info, err := h.ctrl.Start()
	if err != nil || info.State != models.SessionRunning {
		t.Fatalf("Start = %+v, %v", info, err)
	}
	waitFor(t, "first frame", func() bool { return h.ctrl.Info().Frames > 0 })

	info, err = h.ctrl.Start()
	if err != nil || info.State != models.SessionRunning {
		t.Fatalf("second Start = %+v, %v", info, err)
	}
	if h.opens.Load() != 1 {
		t.Fatalf("camera opened %d times, want 1", h.opens.Load())
	}

	if got := h.ctrl.Stop(); got.State != models.SessionStopping {
		t.Fatalf("Stop state = %s, want STOPPING", got.State)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if h.ctrl.State() != models.SessionIdle {
		t.Errorf("state = %s, want IDLE", h.ctrl.State())
	}
	if !src.closed.Load() {
		t.Error("camera not released")
	}
	if h.frames.closed.Load() != 1 {
		t.Errorf("CloseAll called %d times", h.frames.closed.Load())
	}
	snap := h.store.Snapshot()
	if snap.OverallStatus != models.OverallSafe || snap.Summary.PersonCount != 1 {
		t.Errorf("snapshot after stop = %+v, want last SAFE state", snap)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, Options{}, Deps{}, &fakeSource{limit: 0})
	if got := h.ctrl.Stop(); got.State != models.SessionIdle {
		t.Errorf("state = %s, want IDLE", got.State)
	}
}

func TestOpenFailureEntersError(t *testing.T) {
	h := newHarness(t, Options{}, Deps{
		Opener: OpenerFunc(func(context.Context) (Source, error) {
			return nil, errors.New("no such device")
		}),
	})

	if _, err := h.ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "ERROR state", func() bool { return h.ctrl.State() == models.SessionError })

	info := h.ctrl.Info()
	if info.LastError == "" {
		t.Error("last error should be reported")
	}

	// a later start is allowed
	if info, err := h.ctrl.Start(); err != nil || info.State != models.SessionRunning {
		t.Errorf("restart = %+v, %v", info, err)
	}
	waitFor(t, "ERROR state again", func() bool { return h.ctrl.State() == models.SessionError })
}

func TestEndOfStreamReturnsToIdle(t *testing.T) {
	src := &fakeSource{limit: 3}
	h := newHarness(t, Options{}, Deps{Person: personDetector()}, src)

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if got := h.ctrl.Info().Frames; got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}
	if h.frames.published.Load() != 3 {
		t.Errorf("published = %d, want 3", h.frames.published.Load())
	}
	if !src.closed.Load() {
		t.Error("camera not released at end of stream")
	}
}

func TestReadFailureEntersError(t *testing.T) {
	src := &fakeSource{limit: 1, readErr: fmt.Errorf("%w: 10 consecutive read failures", models.ErrCameraUnavailable)}
	h := newHarness(t, Options{}, Deps{}, src)

	h.ctrl.Start()
	waitFor(t, "ERROR", func() bool { return h.ctrl.State() == models.SessionError })
	if !src.closed.Load() {
		t.Error("camera not released after read failure")
	}
}

func TestDetectorFailureSkipsFrame(t *testing.T) {
	ppe := detectorFunc(func(_ context.Context, f *models.RawFrame) ([]models.Detection, error) {
		if f.FrameID == 2 {
			return nil, fmt.Errorf("%w: deadline exceeded", models.ErrDetectorFailure)
		}
		return []models.Detection{helmet, jacket}, nil
	})
	h := newHarness(t, Options{}, Deps{PPE: ppe, Person: personDetector()}, &fakeSource{limit: 3})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if got := h.ctrl.Info().Frames; got != 2 {
		t.Errorf("frames = %d, want 2 with one skipped", got)
	}
}

func TestInvalidFormatCountsAsNoDetections(t *testing.T) {
	ppe := detectorFunc(func(context.Context, *models.RawFrame) ([]models.Detection, error) {
		return nil, fmt.Errorf("%w: x1 is not an integer", models.ErrInvalidDetectionFormat)
	})
	eval := &recordingEvaluator{}
	h := newHarness(t, Options{}, Deps{PPE: ppe, Person: personDetector(), Alerts: eval}, &fakeSource{limit: 1})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	snap := h.store.Snapshot()
	if snap.OverallStatus != models.OverallUnsafe {
		t.Errorf("status = %s, want UNSAFE", snap.OverallStatus)
	}

	eval.mu.Lock()
	defer eval.mu.Unlock()
	if len(eval.missing) != 1 || len(eval.missing[0]) != 2 {
		t.Errorf("missing = %v, want helmet and jacket", eval.missing)
	}
}

func TestNoPersonDetectorMeansNoPerson(t *testing.T) {
	h := newHarness(t, Options{}, Deps{}, &fakeSource{limit: 2})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if got := h.store.Snapshot().OverallStatus; got != models.OverallNoPerson {
		t.Errorf("status = %s, want NO_PERSON", got)
	}
}

func TestPersonLabelFilter(t *testing.T) {
	mixed := detectorFunc(func(context.Context, *models.RawFrame) ([]models.Detection, error) {
		car := worker
		car.ClassLabel = "car"
		return []models.Detection{car, worker}, nil
	})
	h := newHarness(t, Options{}, Deps{Person: mixed}, &fakeSource{limit: 1})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if got := h.store.Snapshot().Summary.PersonCount; got != 1 {
		t.Errorf("person count = %d, want 1", got)
	}
}

func TestLargeFramesAreDownscaled(t *testing.T) {
	resizer := &recordingResizer{}
	var seen atomic.Int64
	ppe := detectorFunc(func(_ context.Context, f *models.RawFrame) ([]models.Detection, error) {
		seen.Store(int64(f.Width))
		return nil, nil
	})
	opts := Options{MaxFrameDimension: 1000, ResizeWidth: 640, ResizeHeight: 480}
	h := newHarness(t, opts, Deps{PPE: ppe, Resizer: resizer}, &fakeSource{limit: 1, width: 1280, height: 720})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if resizer.calls.Load() != 1 {
		t.Errorf("resize calls = %d, want 1", resizer.calls.Load())
	}
	if seen.Load() != 640 {
		t.Errorf("detector saw width %d, want 640", seen.Load())
	}
}

func TestStartReportsBusyWhileCameraHeld(t *testing.T) {
	gate := make(chan struct{})
	first := &fakeSource{limit: -1, closeGate: gate}
	second := &fakeSource{limit: -1}
	h := newHarness(t, Options{StartWaitTimeout: 50 * time.Millisecond}, Deps{}, first, second)

	h.ctrl.Start()
	waitFor(t, "first frame", func() bool { return h.ctrl.Info().Frames > 0 })
	h.ctrl.Stop()

	if _, err := h.ctrl.Start(); !errors.Is(err, models.ErrResourceBusy) {
		t.Fatalf("Start while releasing = %v, want ErrResourceBusy", err)
	}

	close(gate)
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	info, err := h.ctrl.Start()
	if err != nil || info.State != models.SessionRunning {
		t.Fatalf("Start after release = %+v, %v", info, err)
	}
	waitFor(t, "second camera frames", func() bool { return second.served.Load() > 0 })
	if first.served.Load() == 0 || h.opens.Load() != 2 {
		t.Errorf("opens = %d", h.opens.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.ctrl.Shutdown(ctx)
}

func TestConcurrentStartsOpenOneSession(t *testing.T) {
	h := newHarness(t, Options{}, Deps{}, &fakeSource{limit: -1})

	const callers = 8
	ready := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ready
			info, err := h.ctrl.Start()
			if err == nil && info.State != models.SessionRunning {
				err = fmt.Errorf("state %s", info.State)
			}
			errs <- err
		}()
	}
	close(ready)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	}
	waitFor(t, "first frame", func() bool { return h.ctrl.Info().Frames > 0 })
	if h.opens.Load() != 1 {
		t.Errorf("camera opened %d times, want 1", h.opens.Load())
	}
	shutdown(t, h.ctrl)
}

func TestSnapshotRightAfterStopReturnsLastState(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{limit: -1, closeGate: gate}
	h := newHarness(t, Options{}, Deps{Person: personDetector()}, src)

	h.ctrl.Start()
	waitFor(t, "first frame", func() bool { return h.ctrl.Info().Frames > 0 })

	h.ctrl.Stop()
	snap := h.store.Snapshot()

	// the worker cannot exit while the camera release is held
	if got := h.ctrl.State(); got != models.SessionStopping {
		t.Errorf("state = %s, want STOPPING", got)
	}
	if snap.OverallStatus != models.OverallSafe || snap.Summary.PersonCount != 1 {
		t.Errorf("snapshot right after stop = %+v, want last SAFE state", snap)
	}

	close(gate)
	shutdown(t, h.ctrl)
}

func TestStopLetsFrameInFlightComplete(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ppe := detectorFunc(func(ctx context.Context, f *models.RawFrame) ([]models.Detection, error) {
		if f.FrameID == 1 {
			once.Do(func() { close(entered) })
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", models.ErrDetectorFailure, ctx.Err())
			case <-release:
			}
		}
		return []models.Detection{helmet, jacket}, nil
	})
	m := &countingMetrics{}
	h := newHarness(t, Options{}, Deps{PPE: ppe, Person: personDetector(), Metrics: m}, &fakeSource{limit: -1})

	h.ctrl.Start()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("detector never called")
	}

	h.ctrl.Stop()
	close(release)
	shutdown(t, h.ctrl)

	if got := h.ctrl.Info().Frames; got != 1 {
		t.Errorf("frames = %d, want the in-flight frame completed", got)
	}
	snap := h.store.Snapshot()
	if snap.OverallStatus != models.OverallSafe || snap.FrameID != 1 {
		t.Errorf("snapshot = %+v, want SAFE from frame 1", snap)
	}
	if m.detectorErrors.Load() != 0 {
		t.Errorf("detector errors = %d, want 0", m.detectorErrors.Load())
	}
}

func TestDetectorTimeoutBoundsCall(t *testing.T) {
	ppe := detectorFunc(func(ctx context.Context, _ *models.RawFrame) ([]models.Detection, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", models.ErrDetectorFailure, ctx.Err())
	})
	m := &countingMetrics{}
	h := newHarness(t, Options{DetectorTimeout: 20 * time.Millisecond}, Deps{PPE: ppe, Metrics: m}, &fakeSource{limit: 1})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if m.detectorErrors.Load() != 1 || h.ctrl.Info().Frames != 0 {
		t.Errorf("detector errors = %d, frames = %d", m.detectorErrors.Load(), h.ctrl.Info().Frames)
	}
}

func TestStreamsCloseAfterSessionLeavesRunning(t *testing.T) {
	h := newHarness(t, Options{}, Deps{}, &fakeSource{limit: 3})
	var atClose atomic.Value
	h.frames.onClose = func() { atClose.Store(h.ctrl.State()) }

	h.ctrl.Start()
	waitFor(t, "streams closed", func() bool { return h.frames.closed.Load() == 1 })

	if got, _ := atClose.Load().(models.SessionState); got != models.SessionIdle {
		t.Errorf("state while closing streams = %s, want IDLE", got)
	}
	if h.frames.reopened.Load() != 1 {
		t.Errorf("Reopen called %d times, want 1", h.frames.reopened.Load())
	}
}

func TestRestartReportsFreshFrameCount(t *testing.T) {
	h := newHarness(t, Options{}, Deps{}, &fakeSource{limit: 3}, &fakeSource{limit: -1})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })
	if got := h.ctrl.Info().Frames; got != 3 {
		t.Fatalf("frames = %d, want 3", got)
	}

	info, err := h.ctrl.Start()
	if err != nil || info.State != models.SessionRunning {
		t.Fatalf("restart = %+v, %v", info, err)
	}
	if info.Frames != 0 {
		t.Errorf("restart frames = %d, want 0", info.Frames)
	}
	shutdown(t, h.ctrl)
}

func TestStopDoesNotWaitForPendingStart(t *testing.T) {
	gate := make(chan struct{})
	first := &fakeSource{limit: -1, closeGate: gate}
	h := newHarness(t, Options{StartWaitTimeout: time.Second}, Deps{}, first, &fakeSource{limit: -1})

	h.ctrl.Start()
	waitFor(t, "first frame", func() bool { return h.ctrl.Info().Frames > 0 })
	h.ctrl.Stop()

	started := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Start()
		started <- err
	}()
	time.Sleep(20 * time.Millisecond)

	begin := time.Now()
	h.ctrl.Stop()
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Errorf("Stop took %v while a Start was waiting", elapsed)
	}

	close(gate)
	if err := <-started; err != nil {
		t.Errorf("pending Start = %v", err)
	}
	shutdown(t, h.ctrl)
}

func TestLastStateSurvivesRestartUntilFirstFrame(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, Options{}, Deps{Person: personDetector()},
		&fakeSource{limit: 2}, &fakeSource{limit: -1, readGate: gate})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if _, err := h.ctrl.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	snap := h.store.Snapshot()
	if snap.OverallStatus != models.OverallSafe || snap.FrameID != 2 {
		t.Errorf("snapshot before first frame of new session = %+v, want previous SAFE state", snap)
	}

	close(gate)
	waitFor(t, "new frame", func() bool { return h.store.Snapshot().FrameID > 2 })
	shutdown(t, h.ctrl)
}

func TestSummaryCarriesFrameTimestamp(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	h := newHarness(t, Options{}, Deps{Person: personDetector()}, &fakeSource{limit: 1, stamp: stamp})

	h.ctrl.Start()
	waitFor(t, "IDLE", func() bool { return h.ctrl.State() == models.SessionIdle })

	if got := h.store.Snapshot().Summary.Timestamp; !got.Equal(stamp) {
		t.Errorf("summary timestamp = %v, want frame time %v", got, stamp)
	}
}

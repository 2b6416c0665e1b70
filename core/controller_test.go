package core

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"testing"

	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

var errDevice = errors.New("device unavailable")

// fakeEngine 记录调用序列并模拟资源所有权
type fakeEngine struct {
	calls []string

	failCreate   error
	failPlayer   error
	failRecorder error
	failDecoder  error
	failStart    error

	created  bool
	player   bool
	recorder bool
	decoder  bool
	running  bool

	sampleRate   int
	framesPerBuf int
	decoderURI   string
}

func (f *fakeEngine) CreateEngine(sampleRate, framesPerBuf int) error {
	f.calls = append(f.calls, "CreateEngine")
	if f.failCreate != nil {
		return f.failCreate
	}
	f.created = true
	f.sampleRate, f.framesPerBuf = sampleRate, framesPerBuf
	return nil
}

func (f *fakeEngine) DeleteEngine() error {
	f.calls = append(f.calls, "DeleteEngine")
	f.running = false
	f.player, f.recorder, f.decoder = false, false, false
	f.created = false
	return nil
}

func (f *fakeEngine) CreatePlayer() error {
	f.calls = append(f.calls, "CreatePlayer")
	if f.failPlayer != nil {
		return f.failPlayer
	}
	if f.player {
		return errors.New("player exists")
	}
	f.player = true
	return nil
}

func (f *fakeEngine) DeletePlayer() {
	f.calls = append(f.calls, "DeletePlayer")
	f.player = false
}

func (f *fakeEngine) CreateRecorder() error {
	f.calls = append(f.calls, "CreateRecorder")
	if f.failRecorder != nil {
		return f.failRecorder
	}
	f.recorder = true
	return nil
}

func (f *fakeEngine) DeleteRecorder() {
	f.calls = append(f.calls, "DeleteRecorder")
	f.recorder = false
}

func (f *fakeEngine) CreateDecoder(uri []byte) error {
	f.calls = append(f.calls, "CreateDecoder")
	f.decoderURI = string(uri)
	if f.failDecoder != nil {
		return f.failDecoder
	}
	f.decoder = true
	return nil
}

func (f *fakeEngine) DeleteDecoder() {
	f.calls = append(f.calls, "DeleteDecoder")
	f.decoder = false
}

func (f *fakeEngine) StartSession() error {
	f.calls = append(f.calls, "StartSession")
	if f.failStart != nil {
		return f.failStart
	}
	f.running = true
	return nil
}

func (f *fakeEngine) StopSession() {
	f.calls = append(f.calls, "StopSession")
	f.running = false
	f.player, f.recorder, f.decoder = false, false, false
}

func (f *fakeEngine) holdsResources() bool {
	return f.player || f.recorder || f.decoder || f.running
}

func (f *fakeEngine) reset() {
	f.calls = nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testParams = AudioParameters{SampleRate: 48000, BufferFrames: 240}

func newTestController(t *testing.T, eng *fakeEngine) *Controller {
	t.Helper()
	c, err := NewController(eng, testParams, "/tmp/ring.wav", testLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	eng.reset()
	return c
}

func assertCalls(t *testing.T, eng *fakeEngine, want ...string) {
	t.Helper()
	if !slices.Equal(eng.calls, want) {
		t.Errorf("engine calls = %v, want %v", eng.calls, want)
	}
}

func TestNewControllerValidation(t *testing.T) {
	if _, err := NewController(nil, testParams, "", testLogger()); err == nil {
		t.Error("Expected error for nil engine")
	}
	if _, err := NewController(&fakeEngine{}, testParams, "", nil); err == nil {
		t.Error("Expected error for nil logger")
	}
}

func TestInitialize(t *testing.T) {
	eng := &fakeEngine{}
	c, err := NewController(eng, testParams, "", testLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := c.StartEcho(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Expected ErrNotInitialized before Initialize, got %v", err)
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if eng.sampleRate != 48000 || eng.framesPerBuf != 240 {
		t.Errorf("engine created with %d/%d, want 48000/240", eng.sampleRate, eng.framesPerBuf)
	}
	if got := c.State(); got != SessionIdle {
		t.Errorf("Expected idle state, got %s", got)
	}
	want := "nativeSampleRate    = 48000\nnativeSampleBufSize = 240\nnativeSampleFormat  = "
	if got := c.Status().Text; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}

	// 重复初始化不会再次创建引擎
	if err := c.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	assertCalls(t, eng, "CreateEngine")
}

func TestInitializeInvalidParameters(t *testing.T) {
	eng := &fakeEngine{}
	c, err := NewController(eng, AudioParameters{SampleRate: 0, BufferFrames: 240}, "", testLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	if err := c.Initialize(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("Expected ErrInvalidParameters, got %v", err)
	}
	if len(eng.calls) != 0 {
		t.Errorf("engine should not be touched, got calls %v", eng.calls)
	}
}

func TestInitializeEngineFailure(t *testing.T) {
	eng := &fakeEngine{failCreate: errDevice}
	c, _ := NewController(eng, testParams, "", testLogger())
	if err := c.Initialize(); !errors.Is(err, errDevice) {
		t.Fatalf("Expected engine error, got %v", err)
	}
	if err := c.StartEcho(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized after failed Initialize, got %v", err)
	}
}

func TestEchoScenario(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.StartEcho(); err != nil {
		t.Fatalf("StartEcho failed: %v", err)
	}
	assertCalls(t, eng, "CreatePlayer", "CreateRecorder", "StartSession")
	if got := c.State(); got != SessionEchoing {
		t.Fatalf("Expected echoing, got %s", got)
	}
	st := c.Status()
	if st.Text != StatusEchoing || st.State != string(SessionEchoing) || st.SessionID == "" {
		t.Errorf("unexpected status %+v", st)
	}

	eng.reset()
	if err := c.StopEcho(); err != nil {
		t.Fatalf("StopEcho failed: %v", err)
	}
	assertCalls(t, eng, "StopSession", "DeletePlayer", "DeleteRecorder")
	if got := c.State(); got != SessionIdle {
		t.Errorf("Expected idle, got %s", got)
	}
	if eng.holdsResources() {
		t.Error("player and recorder should be released")
	}
	if st := c.Status(); st.Text != testParams.StatusText() || st.SessionID != "" {
		t.Errorf("unexpected status after stop %+v", st)
	}
}

func TestRingtoneScenario(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.StartRingtone(); err != nil {
		t.Fatalf("StartRingtone failed: %v", err)
	}
	assertCalls(t, eng, "CreatePlayer", "CreateDecoder", "StartSession")
	if eng.decoderURI != "/tmp/ring.wav" {
		t.Errorf("decoder uri = %q", eng.decoderURI)
	}
	if got := c.State(); got != SessionRingtonePlaying {
		t.Fatalf("Expected ringtone_playing, got %s", got)
	}
	if c.Status().Text != StatusRingtone {
		t.Errorf("status = %q", c.Status().Text)
	}

	eng.reset()
	if err := c.StopRingtone(); err != nil {
		t.Fatalf("StopRingtone failed: %v", err)
	}
	assertCalls(t, eng, "StopSession", "DeletePlayer", "DeleteDecoder")
	if c.State() != SessionIdle || eng.holdsResources() {
		t.Error("ringtone session not fully released")
	}
}

func TestStartWhileActiveIsNoop(t *testing.T) {
	tests := []struct {
		name  string
		start func(*Controller) error
		again func(*Controller) error
		state SessionState
	}{
		{"echo then echo", (*Controller).StartEcho, (*Controller).StartEcho, SessionEchoing},
		{"echo then ringtone", (*Controller).StartEcho, (*Controller).StartRingtone, SessionEchoing},
		{"ringtone then echo", (*Controller).StartRingtone, (*Controller).StartEcho, SessionRingtonePlaying},
		{"ringtone then ringtone", (*Controller).StartRingtone, (*Controller).StartRingtone, SessionRingtonePlaying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			c := newTestController(t, eng)
			if err := tt.start(c); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			eng.reset()
			before := *eng

			if err := tt.again(c); err != nil {
				t.Fatalf("second start returned %v", err)
			}
			if len(eng.calls) != 0 {
				t.Errorf("Expected no engine calls, got %v", eng.calls)
			}
			if eng.player != before.player || eng.recorder != before.recorder || eng.decoder != before.decoder {
				t.Error("resources changed")
			}
			if got := c.State(); got != tt.state {
				t.Errorf("state = %s, want %s", got, tt.state)
			}
		})
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.StopEcho(); err != nil {
		t.Fatalf("StopEcho failed: %v", err)
	}
	if err := c.StopRingtone(); err != nil {
		t.Fatalf("StopRingtone failed: %v", err)
	}
	if len(eng.calls) != 0 {
		t.Errorf("Expected no engine calls, got %v", eng.calls)
	}
	if c.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}
}

func TestStopOtherSessionIsNoop(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.StartRingtone(); err != nil {
		t.Fatalf("StartRingtone failed: %v", err)
	}
	eng.reset()
	if err := c.StopEcho(); err != nil {
		t.Fatalf("StopEcho failed: %v", err)
	}
	if len(eng.calls) != 0 || c.State() != SessionRingtonePlaying {
		t.Errorf("StopEcho during ringtone should be a no-op, calls %v state %s", eng.calls, c.State())
	}
}

func TestStartEchoPlayerFailure(t *testing.T) {
	eng := &fakeEngine{failPlayer: errDevice}
	c := newTestController(t, eng)

	err := c.StartEcho()
	if !errors.Is(err, ErrPlayerCreate) || !errors.Is(err, ErrEngineCreateFailed) || !errors.Is(err, errDevice) {
		t.Fatalf("Expected player creation error, got %v", err)
	}
	assertCalls(t, eng, "CreatePlayer")
	if c.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if c.Status().Text != StatusPlayerFailed {
		t.Errorf("status = %q, want %q", c.Status().Text, StatusPlayerFailed)
	}
}

func TestStartEchoRecorderFailureRollsBack(t *testing.T) {
	eng := &fakeEngine{failRecorder: errDevice}
	c := newTestController(t, eng)

	if err := c.StartEcho(); !errors.Is(err, ErrRecorderCreate) {
		t.Fatalf("Expected ErrRecorderCreate, got %v", err)
	}
	assertCalls(t, eng, "CreatePlayer", "CreateRecorder", "DeletePlayer")
	if eng.holdsResources() {
		t.Error("player should have been released")
	}
	if c.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if c.Status().Text != StatusRecorderFailed {
		t.Errorf("status = %q", c.Status().Text)
	}

	// 失败后可以再次尝试
	eng.failRecorder = nil
	if err := c.StartEcho(); err != nil {
		t.Fatalf("retry StartEcho failed: %v", err)
	}
	if c.State() != SessionEchoing {
		t.Errorf("Expected echoing after retry, got %s", c.State())
	}
}

func TestStartRingtonePlayerFailure(t *testing.T) {
	eng := &fakeEngine{failPlayer: errDevice}
	c := newTestController(t, eng)

	if err := c.StartRingtone(); !errors.Is(err, ErrPlayerCreate) {
		t.Fatalf("Expected ErrPlayerCreate, got %v", err)
	}
	assertCalls(t, eng, "CreatePlayer")
	if c.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if c.Status().Text != StatusPlayerFailed {
		t.Errorf("status = %q, want player failure", c.Status().Text)
	}
}

func TestStartRingtoneDecoderFailureRollsBack(t *testing.T) {
	eng := &fakeEngine{failDecoder: errDevice}
	c := newTestController(t, eng)

	if err := c.StartRingtone(); !errors.Is(err, ErrDecoderCreate) {
		t.Fatalf("Expected ErrDecoderCreate, got %v", err)
	}
	assertCalls(t, eng, "CreatePlayer", "CreateDecoder", "DeletePlayer")
	if eng.holdsResources() || c.State() != SessionIdle {
		t.Error("decoder failure must leave controller idle with no resources")
	}
	if c.Status().Text != StatusDecoderFailed {
		t.Errorf("status = %q", c.Status().Text)
	}
}

func TestStartSessionFailureRollsBack(t *testing.T) {
	eng := &fakeEngine{failStart: errDevice}
	c := newTestController(t, eng)

	if err := c.StartEcho(); !errors.Is(err, ErrSessionStart) {
		t.Fatalf("Expected ErrSessionStart, got %v", err)
	}
	assertCalls(t, eng, "CreatePlayer", "CreateRecorder", "StartSession", "DeleteRecorder", "DeletePlayer")
	if eng.holdsResources() || c.State() != SessionIdle {
		t.Error("start failure must leave controller idle with no resources")
	}
}

func TestShutdownWhileEchoing(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.StartEcho(); err != nil {
		t.Fatalf("StartEcho failed: %v", err)
	}
	eng.reset()

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	assertCalls(t, eng, "StopSession", "DeleteEngine")
	if eng.running || eng.created {
		t.Error("session should be stopped and engine released")
	}
	if c.State() != SessionIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}

	eng.reset()
	if err := c.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
	if err := c.StartEcho(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown, got %v", err)
	}
	if err := c.Initialize(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown from Initialize, got %v", err)
	}
	if len(eng.calls) != 0 {
		t.Errorf("Expected no engine calls after shutdown, got %v", eng.calls)
	}
}

func TestShutdownIdle(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	assertCalls(t, eng, "DeleteEngine")
}

func TestShutdownBeforeInitialize(t *testing.T) {
	eng := &fakeEngine{}
	c, _ := NewController(eng, testParams, "", testLogger())
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(eng.calls) != 0 {
		t.Errorf("Expected no engine calls, got %v", eng.calls)
	}
}

func TestDispatch(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	steps := []struct {
		action interfaces.Action
		want   SessionState
	}{
		{interfaces.ActionStartEcho, SessionEchoing},
		{interfaces.ActionStopRingtone, SessionEchoing},
		{interfaces.ActionStopEcho, SessionIdle},
		{interfaces.ActionStartRingtone, SessionRingtonePlaying},
		{interfaces.ActionParameters, SessionRingtonePlaying},
		{interfaces.ActionStopRingtone, SessionIdle},
	}
	for _, s := range steps {
		if err := c.Dispatch(s.action); err != nil {
			t.Fatalf("Dispatch(%s) failed: %v", s.action, err)
		}
		if got := c.State(); got != s.want {
			t.Errorf("after %s state = %s, want %s", s.action, got, s.want)
		}
	}

	if err := c.Dispatch("explode"); !errors.Is(err, interfaces.ErrUnknownAction) {
		t.Errorf("Expected ErrUnknownAction, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	eng := &fakeEngine{}
	c := newTestController(t, eng)

	var got []interfaces.StatusEvent
	unsubscribe := c.Subscribe(func(ev interfaces.StatusEvent) {
		got = append(got, ev)
	})
	if len(got) != 1 || got[0].Text != testParams.StatusText() || got[0].State != string(SessionIdle) {
		t.Fatalf("Expected current status on subscribe, got %+v", got)
	}

	if err := c.StartEcho(); err != nil {
		t.Fatalf("StartEcho failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 status events, got %d", len(got))
	}
	if got[1].Text != StatusButtonClicked || got[1].State != string(SessionIdle) {
		t.Errorf("second event = %+v", got[1])
	}
	if got[2].Text != StatusEchoing || got[2].State != string(SessionEchoing) {
		t.Errorf("third event = %+v", got[2])
	}

	unsubscribe()
	unsubscribe()
	if err := c.StopEcho(); err != nil {
		t.Fatalf("StopEcho failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected no events after unsubscribe, got %d", len(got))
	}
}

func TestSubscribeBeforeInitialize(t *testing.T) {
	c, err := NewController(&fakeEngine{}, testParams, "/tmp/ring.wav", testLogger())
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	var got []interfaces.StatusEvent
	defer c.Subscribe(func(ev interfaces.StatusEvent) {
		got = append(got, ev)
	})()
	if len(got) != 0 {
		t.Fatalf("Expected no status before Initialize, got %+v", got)
	}

	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != testParams.StatusText() {
		t.Errorf("Expected parameter status after Initialize, got %+v", got)
	}
}

// 任意操作序列下两个会话标志都不会同时为真，空闲时不持有子资源
func TestRandomActionSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	actions := interfaces.Actions()

	for run := 0; run < 50; run++ {
		eng := &fakeEngine{}
		c := newTestController(t, eng)

		for step := 0; step < 200; step++ {
			eng.failPlayer, eng.failRecorder, eng.failDecoder, eng.failStart = nil, nil, nil, nil
			switch rng.Intn(8) {
			case 0:
				eng.failPlayer = errDevice
			case 1:
				eng.failRecorder = errDevice
			case 2:
				eng.failDecoder = errDevice
			case 3:
				eng.failStart = errDevice
			}

			_ = c.Dispatch(actions[rng.Intn(len(actions))])

			state := c.State()
			if state.Playing() && state.Decoding() {
				t.Fatalf("run %d step %d: both flags set", run, step)
			}
			if state == SessionIdle && eng.holdsResources() {
				t.Fatalf("run %d step %d: idle controller holds engine resources", run, step)
			}
			if state != SessionIdle && !eng.running {
				t.Fatalf("run %d step %d: state %s without running session", run, step, state)
			}
			if state == SessionEchoing && (!eng.recorder || eng.decoder) {
				t.Fatalf("run %d step %d: echo session with wrong resources", run, step)
			}
			if state == SessionRingtonePlaying && (!eng.decoder || eng.recorder) {
				t.Fatalf("run %d step %d: ringtone session with wrong resources", run, step)
			}
		}

		if err := c.Shutdown(); err != nil {
			t.Fatalf("Shutdown failed: %v", err)
		}
		if eng.holdsResources() || eng.created {
			t.Fatalf("run %d: resources left after shutdown", run)
		}
	}
}

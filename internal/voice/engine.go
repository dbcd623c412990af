// Package voice coordinates microphone capture, volume metering and
// continuous speech recognition as a small state machine driven by the
// bubbletea update loop.
package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwulff/smartsearch/internal/logging"
	"golang.org/x/sync/errgroup"
)

// State is the engine lifecycle position.
type State int

const (
	Idle State = iota
	Acquiring
	Listening
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Listening:
		return "listening"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// FrameInterval is the volume sampling cadence (one animation frame).
const FrameInterval = time.Second / 60

// DefaultLocale is the recognition language.
const DefaultLocale = "en-US"

// TranscriptMsg carries one finalized transcript out of the engine.
type TranscriptMsg struct {
	Text string
}

type acquiredMsg struct {
	id    int
	cycle int
	err   error
}

type frameMsg struct {
	id    int
	cycle int
}

type resultMsg struct {
	id     int
	cycle  int
	result Result
	ok     bool
}

var lastID int64

// resources are the per-cycle handles. They are filled by the acquisition
// command and released by whichever side finishes last; release takes each
// handle exactly once.
type resources struct {
	recognizer Recognizer

	mu        sync.Mutex
	abandoned bool
	cancel    context.CancelFunc
	stream    Stream
	audio     AudioContext
	analyser  Analyser
	results   <-chan Result
}

// fill stores the acquired handles and reports whether the cycle was
// abandoned in the meantime.
func (r *resources) fill(stream Stream, audio AudioContext, analyser Analyser, results <-chan Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream, r.audio, r.analyser, r.results = stream, audio, analyser, results
	return r.abandoned
}

func (r *resources) live() (Analyser, <-chan Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.analyser, r.results
}

func (r *resources) release(log *slog.Logger) {
	r.mu.Lock()
	r.abandoned = true
	cancel, stream, audio, results := r.cancel, r.stream, r.audio, r.results
	r.cancel, r.stream, r.audio, r.analyser, r.results = nil, nil, nil, nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if results != nil {
		if err := r.recognizer.Stop(); err != nil {
			log.Debug("stop recognizer", "error", err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Debug("close stream", "error", err)
		}
	}
	if audio != nil {
		if err := audio.Close(); err != nil {
			log.Debug("close audio context", "error", err)
		}
	}
}

// Engine is the voice capture state machine. All methods except the
// acquisition command run on the update loop.
type Engine struct {
	id         int
	platform   Platform
	recognizer Recognizer
	log        *slog.Logger
	locale     string
	interval   time.Duration

	state    State
	err      error
	disabled bool
	closed   bool
	cycle    int
	volume   float64
	interim  string
	bins     []byte

	// pending is the cycle being acquired, res the cycle being listened to.
	pending  *resources
	res      *resources
	analyser Analyser
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithLocale sets the recognition language.
func WithLocale(locale string) Option {
	return func(e *Engine) {
		if locale != "" {
			e.locale = locale
		}
	}
}

// WithFrameInterval sets the volume sampling cadence.
func WithFrameInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// New creates an engine for platform. When the platform cannot recognise
// speech the engine starts, and stays, in Error.
func New(platform Platform, opts ...Option) *Engine {
	e := &Engine{
		id:       int(atomic.AddInt64(&lastID, 1)),
		platform: platform,
		log:      logging.Discard(),
		locale:   DefaultLocale,
		interval: FrameInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "voice")

	if platform == nil {
		e.enterError(ErrRecognitionUnavailable)
		return e
	}
	rec, err := platform.NewRecognizer()
	if err != nil {
		if !errors.Is(err, ErrRecognitionUnavailable) {
			err = errors.Join(ErrRecognitionUnavailable, err)
		}
		e.enterError(err)
		return e
	}
	e.recognizer = rec
	return e
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Err returns the error that moved the engine into Error.
func (e *Engine) Err() error { return e.err }

// Volume returns the latest meter reading in 0..100.
func (e *Engine) Volume() float64 { return e.volume }

// Interim returns the in-progress transcript of the current cycle.
func (e *Engine) Interim() string { return e.interim }

// Disabled reports whether toggling on is blocked by the caller.
func (e *Engine) Disabled() bool { return e.disabled }

// SetDisabled blocks or unblocks starting a new cycle.
func (e *Engine) SetDisabled(disabled bool) { e.disabled = disabled }

// CanToggle reports whether Toggle would change anything.
func (e *Engine) CanToggle() bool {
	switch e.state {
	case Idle:
		return !e.disabled && !e.closed
	case Listening:
		return true
	default:
		return false
	}
}

// Toggle starts a listening cycle from Idle or stops one from Listening.
// It is rejected in Error and ignored while Acquiring.
func (e *Engine) Toggle() tea.Cmd {
	switch e.state {
	case Idle:
		if e.disabled || e.closed {
			return nil
		}
		return e.acquire()
	case Listening:
		e.stop("toggled off")
		return nil
	default:
		return nil
	}
}

func (e *Engine) acquire() tea.Cmd {
	e.cycle++
	e.state = Acquiring
	e.log.Info("acquiring microphone", "cycle", e.cycle)

	ctx, cancel := context.WithCancel(context.Background())
	res := &resources{cancel: cancel, recognizer: e.recognizer}
	e.pending = res

	id, cycle, platform, locale, log := e.id, e.cycle, e.platform, e.locale, e.log
	return func() tea.Msg {
		g, gctx := errgroup.WithContext(ctx)
		var (
			stream   Stream
			audio    AudioContext
			analyser Analyser
			results  <-chan Result
		)
		g.Go(func() error {
			s, err := platform.OpenMicrophone(gctx)
			if err != nil {
				return err
			}
			stream = s
			a, err := platform.NewAudioContext()
			if err != nil {
				return err
			}
			audio = a
			an, err := a.NewAnalyser(s, FFTSize)
			if err != nil {
				return err
			}
			analyser = an
			return nil
		})
		g.Go(func() error {
			// The session outlives the errgroup, so it runs on the cycle context.
			ch, err := res.recognizer.Start(ctx, locale)
			if err != nil {
				return err
			}
			results = ch
			return nil
		})
		err := g.Wait()

		if abandoned := res.fill(stream, audio, analyser, results); abandoned && err == nil {
			err = context.Canceled
		}
		if err != nil {
			res.release(log)
		}
		return acquiredMsg{id: id, cycle: cycle, err: err}
	}
}

// Update advances the state machine. It returns TranscriptMsg commands when
// a final result arrives.
func (e *Engine) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case acquiredMsg:
		if msg.id != e.id {
			return nil
		}
		return e.handleAcquired(msg)
	case frameMsg:
		if msg.id != e.id || msg.cycle != e.cycle || e.state != Listening {
			return nil
		}
		e.analyser.ByteFrequencyData(e.bins)
		e.volume = Volume(e.bins)
		return e.frame()
	case resultMsg:
		if msg.id != e.id || msg.cycle != e.cycle || e.state != Listening {
			return nil
		}
		return e.handleResult(msg)
	}
	return nil
}

func (e *Engine) handleAcquired(msg acquiredMsg) tea.Cmd {
	res := e.pending
	if res == nil || msg.cycle != e.cycle || e.state != Acquiring {
		return nil
	}
	e.pending = nil
	if msg.err != nil {
		e.log.Warn("voice acquisition failed", "cycle", msg.cycle, "error", msg.err)
		e.enterError(msg.err)
		return nil
	}

	e.res = res
	e.analyser, _ = res.live()
	e.state = Listening
	e.bins = make([]byte, e.analyser.FrequencyBinCount())
	e.log.Info("listening", "cycle", e.cycle)
	return tea.Batch(e.frame(), e.next())
}

func (e *Engine) handleResult(msg resultMsg) tea.Cmd {
	if !msg.ok {
		e.stop("recognizer ended")
		return nil
	}
	r := msg.result
	if r.Err != nil {
		e.log.Warn("recognition error", "cycle", e.cycle, "error", r.Err)
		e.release()
		e.enterError(r.Err)
		return nil
	}
	if !r.Final {
		e.interim = r.Transcript
		return e.next()
	}

	text := strings.TrimSpace(r.Transcript)
	e.stop("final result")
	if text == "" {
		return nil
	}
	return func() tea.Msg { return TranscriptMsg{Text: text} }
}

func (e *Engine) frame() tea.Cmd {
	id, cycle := e.id, e.cycle
	return tea.Tick(e.interval, func(time.Time) tea.Msg {
		return frameMsg{id: id, cycle: cycle}
	})
}

func (e *Engine) next() tea.Cmd {
	_, ch := e.res.live()
	id, cycle := e.id, e.cycle
	return func() tea.Msg {
		r, ok := <-ch
		return resultMsg{id: id, cycle: cycle, result: r, ok: ok}
	}
}

func (e *Engine) stop(reason string) {
	e.release()
	e.state = Idle
	e.log.Info("stopped listening", "cycle", e.cycle, "reason", reason)
}

func (e *Engine) release() {
	if e.res != nil {
		e.res.release(e.log)
		e.res = nil
	}
	e.analyser = nil
	e.volume = 0
	e.interim = ""
	e.bins = nil
}

func (e *Engine) enterError(err error) {
	e.state = Error
	e.err = err
}

// Close releases the microphone stream, the audio context, the sampling
// loop and the recognizer, whatever the current state. A cycle still
// acquiring is released when its resources arrive.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if e.pending != nil {
		// Handles that arrive later are released by the acquisition command.
		e.pending.release(e.log)
		e.pending = nil
	}
	e.release()
	e.cycle++
	if e.state != Error {
		e.state = Idle
	}

	if e.recognizer != nil {
		if err := e.recognizer.Stop(); err != nil {
			e.log.Debug("stop recognizer", "error", err)
		}
		if c, ok := e.recognizer.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

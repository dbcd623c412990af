package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jwulff/smartsearch/internal/logging"
	"github.com/jwulff/smartsearch/internal/voice"
)

// dialTimeout bounds the capability check.
const dialTimeout = 2 * time.Second

// Platform implements voice.Platform on top of the speech daemon. The
// microphone and the recognizer each hold their own connection; the
// daemon releases a device when its connection drops.
type Platform struct {
	addr   string
	device string
	log    *slog.Logger
}

// PlatformOption configures a Platform.
type PlatformOption func(*Platform)

// WithDevice selects the capture device by name. Empty means the daemon default.
func WithDevice(name string) PlatformOption {
	return func(p *Platform) { p.device = name }
}

// WithPlatformLogger sets the logger.
func WithPlatformLogger(log *slog.Logger) PlatformOption {
	return func(p *Platform) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPlatform returns a platform that talks to the daemon at addr.
func NewPlatform(addr string, opts ...PlatformOption) *Platform {
	if addr == "" {
		addr = SocketPath()
	}
	p := &Platform{addr: addr, log: logging.Discard()}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "daemon", "addr", addr)
	return p
}

// OpenMicrophone asks the daemon to open the capture device and starts
// collecting spectrum frames from it.
func (p *Platform) OpenMicrophone(ctx context.Context) (voice.Stream, error) {
	client, err := DialContext(ctx, p.addr)
	if err != nil {
		return nil, err
	}
	resp, err := client.SendCommand(Command{Cmd: CmdOpenMic, Device: p.device, FFTSize: voice.FFTSize})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if !resp.OK {
		client.Close()
		return nil, responseError("open microphone", resp)
	}

	s := &micStream{client: client, log: p.log, done: make(chan struct{})}
	go s.run()
	p.log.Info("microphone open", "device", resp.Device)
	return s, nil
}

// NewAudioContext returns an in-process analysis context. Spectrum data
// already arrives pre-computed from the daemon.
func (p *Platform) NewAudioContext() (voice.AudioContext, error) {
	return &audioContext{}, nil
}

// NewRecognizer checks that the daemon can recognise speech.
func (p *Platform) NewRecognizer() (voice.Recognizer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	client, err := DialContext(ctx, p.addr)
	if err != nil {
		return nil, errors.Join(voice.ErrRecognitionUnavailable, err)
	}
	defer client.Close()

	resp, err := client.SendCommand(Command{Cmd: CmdCapabilities})
	if err != nil {
		return nil, errors.Join(voice.ErrRecognitionUnavailable, err)
	}
	if !resp.OK || (resp.Recognition != nil && !*resp.Recognition) {
		return nil, voice.ErrRecognitionUnavailable
	}
	return &recognizer{addr: p.addr, log: p.log}, nil
}

// responseError maps a failed response to the voice error taxonomy.
func responseError(op string, resp Response) error {
	switch resp.Code {
	case CodePermissionDenied:
		return fmt.Errorf("%s: %w", op, voice.ErrMicrophoneDenied)
	case CodeUnsupported:
		return fmt.Errorf("%s: %w", op, voice.ErrRecognitionUnavailable)
	}
	msg := resp.Error
	if msg == "" {
		msg = "daemon refused"
	}
	return &voice.RecognitionError{Code: resp.Code, Message: fmt.Sprintf("%s: %s", op, msg)}
}

// eventError maps an error event to the voice error taxonomy.
func eventError(ev Event) error {
	switch ev.Code {
	case CodePermissionDenied:
		return voice.ErrMicrophoneDenied
	case CodeUnsupported:
		return voice.ErrRecognitionUnavailable
	}
	return &voice.RecognitionError{Code: ev.Code, Message: ev.Message}
}

// micStream holds the latest spectrum frame streamed for an open microphone.
type micStream struct {
	client *Client
	log    *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	bins   []int
	closed bool
}

func (s *micStream) run() {
	defer close(s.done)
	for {
		ev, err := s.client.ReadEvent()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn("microphone stream ended", "error", err)
			}
			return
		}
		if ev.Event != EventSpectrum {
			continue
		}
		s.mu.Lock()
		s.bins = ev.Bins
		s.mu.Unlock()
	}
}

// Latest returns a copy of the most recent spectrum frame.
func (s *micStream) Latest() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.bins...)
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Send(Command{Cmd: CmdCloseMic}); err != nil {
		s.log.Debug("close_mic", "error", err)
	}
	err := s.client.Close()
	<-s.done
	return err
}

type audioContext struct {
	mu     sync.Mutex
	closed bool
}

func (a *audioContext) NewAnalyser(stream voice.Stream, fftSize int) (voice.Analyser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.New("create analyser: audio context closed")
	}
	mic, ok := stream.(*micStream)
	if !ok {
		return nil, fmt.Errorf("create analyser: unsupported stream %T", stream)
	}
	if fftSize < 2 {
		return nil, fmt.Errorf("create analyser: fft size %d", fftSize)
	}
	return &analyser{stream: mic, bins: fftSize / 2}, nil
}

func (a *audioContext) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

type analyser struct {
	stream *micStream
	bins   int
}

func (a *analyser) FrequencyBinCount() int { return a.bins }

// ByteFrequencyData resamples the latest daemon frame onto dst, clamped to 0..255.
func (a *analyser) ByteFrequencyData(dst []byte) {
	src := a.stream.Latest()
	for i := range dst {
		if len(src) == 0 {
			dst[i] = 0
			continue
		}
		v := src[i*len(src)/len(dst)]
		switch {
		case v < 0:
			v = 0
		case v > 255:
			v = 255
		}
		dst[i] = byte(v)
	}
}

// recognizer runs one daemon recognition session at a time.
type recognizer struct {
	addr string
	log  *slog.Logger

	mu     sync.Mutex
	client *Client
	cancel context.CancelFunc
}

func (r *recognizer) Start(ctx context.Context, locale string) (<-chan voice.Result, error) {
	client, err := DialContext(ctx, r.addr)
	if err != nil {
		return nil, errors.Join(voice.ErrRecognitionUnavailable, err)
	}
	resp, err := client.SendCommand(Command{
		Cmd:        CmdRecognize,
		Locale:     locale,
		Continuous: BoolPtr(true),
		Interim:    BoolPtr(true),
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	if !resp.OK {
		client.Close()
		return nil, responseError("start recognition", resp)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.client, r.cancel = client, cancel
	r.mu.Unlock()

	// Closing the connection unblocks the reader.
	go func() {
		<-sessCtx.Done()
		client.Close()
	}()

	results := make(chan voice.Result)
	go r.read(sessCtx, client, results)
	r.log.Info("recognition started", "locale", locale)
	return results, nil
}

func (r *recognizer) read(ctx context.Context, client *Client, results chan<- voice.Result) {
	defer close(results)
	for {
		ev, err := client.ReadEvent()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrClosed) {
				r.deliver(ctx, results, voice.Result{Err: &voice.RecognitionError{Code: "network", Message: err.Error()}})
			}
			return
		}

		var res voice.Result
		switch ev.Event {
		case EventPartial:
			res = voice.Result{Transcript: ev.Text}
		case EventFinal:
			res = voice.Result{Transcript: ev.Text, Final: true}
		case EventError:
			res = voice.Result{Err: eventError(ev)}
		default:
			continue
		}
		if !r.deliver(ctx, results, res) {
			return
		}
	}
}

func (r *recognizer) deliver(ctx context.Context, results chan<- voice.Result, res voice.Result) bool {
	select {
	case results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop ends the current session, if any.
func (r *recognizer) Stop() error {
	r.mu.Lock()
	client, cancel := r.client, r.cancel
	r.client, r.cancel = nil, nil
	r.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Send(Command{Cmd: CmdStop}); err != nil {
		r.log.Debug("stop recognition", "error", err)
	}
	cancel()
	return nil
}

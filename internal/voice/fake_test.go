package voice

import (
	"context"
	"sync"
)

// fakePlatform records every acquisition and release so tests can check
// that nothing leaks.
type fakePlatform struct {
	mu sync.Mutex

	micErr   error
	recErr   error
	startErr error
	// gate, when set, blocks OpenMicrophone until closed.
	gate chan struct{}
	bins []byte

	opened, closedStreams int
	contexts, closedCtx   int
	rec                   *fakeRecognizer
	newRecognizerCalls    int
}

func newFakePlatform() *fakePlatform {
	p := &fakePlatform{bins: make([]byte, FFTSize/2)}
	p.rec = &fakeRecognizer{platform: p}
	return p
}

func (p *fakePlatform) OpenMicrophone(ctx context.Context) (Stream, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.micErr != nil {
		return nil, p.micErr
	}
	p.opened++
	return &fakeStream{p: p}, nil
}

func (p *fakePlatform) NewAudioContext() (AudioContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts++
	return &fakeAudioContext{p: p}, nil
}

func (p *fakePlatform) NewRecognizer() (Recognizer, error) {
	p.newRecognizerCalls++
	if p.recErr != nil {
		return nil, p.recErr
	}
	return p.rec, nil
}

func (p *fakePlatform) setBins(v byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.bins {
		p.bins[i] = v
	}
}

func (p *fakePlatform) counts() (opened, closedStreams, contexts, closedCtx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened, p.closedStreams, p.contexts, p.closedCtx
}

type fakeStream struct {
	p    *fakePlatform
	once sync.Once
}

func (s *fakeStream) Close() error {
	s.once.Do(func() {
		s.p.mu.Lock()
		s.p.closedStreams++
		s.p.mu.Unlock()
	})
	return nil
}

type fakeAudioContext struct {
	p    *fakePlatform
	once sync.Once
}

func (c *fakeAudioContext) NewAnalyser(Stream, int) (Analyser, error) {
	return &fakeAnalyser{p: c.p}, nil
}

func (c *fakeAudioContext) Close() error {
	c.once.Do(func() {
		c.p.mu.Lock()
		c.p.closedCtx++
		c.p.mu.Unlock()
	})
	return nil
}

type fakeAnalyser struct{ p *fakePlatform }

func (a *fakeAnalyser) FrequencyBinCount() int { return FFTSize / 2 }

func (a *fakeAnalyser) ByteFrequencyData(dst []byte) {
	a.p.mu.Lock()
	defer a.p.mu.Unlock()
	copy(dst, a.p.bins)
}

type fakeRecognizer struct {
	platform *fakePlatform

	mu      sync.Mutex
	starts  int
	stops   int
	closed  bool
	locale  string
	results chan Result
}

func (r *fakeRecognizer) Start(ctx context.Context, locale string) (<-chan Result, error) {
	r.platform.mu.Lock()
	err := r.platform.startErr
	r.platform.mu.Unlock()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	r.locale = locale
	r.results = make(chan Result, 8)
	return r.results, nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	if r.results != nil {
		close(r.results)
		r.results = nil
	}
	return nil
}

func (r *fakeRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRecognizer) push(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results <- res
}

func (r *fakeRecognizer) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results != nil
}

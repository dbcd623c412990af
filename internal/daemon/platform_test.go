package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/smartsearch/internal/voice"
)

// scriptedDaemon answers every connection's first command with handle and
// keeps the connection open until the client hangs up.
type scriptedDaemon struct {
	mu   sync.Mutex
	cmds []Command
}

func (d *scriptedDaemon) commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.cmds...)
}

func startScriptedDaemon(t *testing.T, handle func(cmd Command) (Response, []Event)) (string, *scriptedDaemon) {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "speech.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	d := &scriptedDaemon{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				enc := json.NewEncoder(conn)
				first := true
				for scanner.Scan() {
					var cmd Command
					if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
						return
					}
					d.mu.Lock()
					d.cmds = append(d.cmds, cmd)
					d.mu.Unlock()
					if !first {
						continue
					}
					first = false
					resp, events := handle(cmd)
					enc.Encode(resp)
					for _, ev := range events {
						enc.Encode(ev)
					}
				}
			}()
		}
	}()
	return sockPath, d
}

func TestPlatformRecognizerUnavailable(t *testing.T) {
	sock, _ := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		return Response{OK: true, Recognition: BoolPtr(false)}, nil
	})

	_, err := NewPlatform(sock).NewRecognizer()
	if !errors.Is(err, voice.ErrRecognitionUnavailable) {
		t.Errorf("err = %v, want ErrRecognitionUnavailable", err)
	}
}

func TestPlatformNoDaemon(t *testing.T) {
	_, err := NewPlatform(filepath.Join(t.TempDir(), "missing.sock")).NewRecognizer()
	if !errors.Is(err, voice.ErrRecognitionUnavailable) {
		t.Errorf("err = %v, want ErrRecognitionUnavailable", err)
	}
}

func TestPlatformMicrophoneDenied(t *testing.T) {
	sock, _ := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		return Response{OK: false, Code: CodePermissionDenied, Error: "denied"}, nil
	})

	_, err := NewPlatform(sock).OpenMicrophone(context.Background())
	if !errors.Is(err, voice.ErrMicrophoneDenied) {
		t.Errorf("err = %v, want ErrMicrophoneDenied", err)
	}
}

func TestPlatformMicrophoneSpectrum(t *testing.T) {
	sock, d := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		return Response{OK: true, Device: "test mic"}, []Event{
			{Event: EventSpectrum, Bins: []int{40, 40, 300, -5}},
		}
	})

	p := NewPlatform(sock, WithDevice("test mic"))
	stream, err := p.OpenMicrophone(context.Background())
	if err != nil {
		t.Fatalf("open microphone: %v", err)
	}
	audio, err := p.NewAudioContext()
	if err != nil {
		t.Fatalf("audio context: %v", err)
	}
	an, err := audio.NewAnalyser(stream, voice.FFTSize)
	if err != nil {
		t.Fatalf("analyser: %v", err)
	}
	if got := an.FrequencyBinCount(); got != voice.FFTSize/2 {
		t.Errorf("bins = %d, want %d", got, voice.FFTSize/2)
	}

	// Four daemon bins spread over eight analyser bins.
	dst := make([]byte, 8)
	deadline := time.Now().Add(2 * time.Second)
	for dst[0] == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		an.ByteFrequencyData(dst)
	}
	want := []byte{40, 40, 40, 40, 255, 255, 0, 0}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], want[i])
		}
	}

	if err := stream.Close(); err != nil {
		t.Errorf("close stream: %v", err)
	}
	if err := audio.Close(); err != nil {
		t.Errorf("close audio: %v", err)
	}

	cmds := d.commands()
	if len(cmds) == 0 || cmds[0].Cmd != CmdOpenMic || cmds[0].Device != "test mic" || cmds[0].FFTSize != voice.FFTSize {
		t.Errorf("first command = %+v", cmds)
	}
}

func TestPlatformAnalyserRejectsForeignStream(t *testing.T) {
	audio, _ := NewPlatform("unused").NewAudioContext()
	if _, err := audio.NewAnalyser(nil, voice.FFTSize); err == nil {
		t.Error("expected error for foreign stream")
	}
}

func collect(t *testing.T, results <-chan voice.Result, n int) []voice.Result {
	t.Helper()
	var got []voice.Result
	for len(got) < n {
		select {
		case r, ok := <-results:
			if !ok {
				return got
			}
			got = append(got, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d results", len(got))
		}
	}
	return got
}

func TestPlatformRecognizerSession(t *testing.T) {
	sock, d := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		if cmd.Cmd == CmdCapabilities {
			return Response{OK: true, Recognition: BoolPtr(true)}, nil
		}
		return Response{OK: true}, []Event{
			{Event: EventSpectrum, Bins: []int{1}},
			{Event: EventPartial, Text: "trail"},
			{Event: EventFinal, Text: "trail shoes"},
		}
	})

	rec, err := NewPlatform(sock).NewRecognizer()
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	results, err := rec.Start(context.Background(), "en-GB")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	got := collect(t, results, 2)
	if len(got) != 2 {
		t.Fatalf("results = %d, want 2", len(got))
	}
	if got[0].Final || got[0].Transcript != "trail" {
		t.Errorf("result 0 = %+v", got[0])
	}
	if !got[1].Final || got[1].Transcript != "trail shoes" {
		t.Errorf("result 1 = %+v", got[1])
	}

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case _, ok := <-results:
		if ok {
			t.Error("unexpected result after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("results not closed after stop")
	}

	var recognize *Command
	for _, c := range d.commands() {
		if c.Cmd == CmdRecognize {
			c := c
			recognize = &c
		}
	}
	if recognize == nil {
		t.Fatal("recognize command not sent")
	}
	if recognize.Locale != "en-GB" {
		t.Errorf("locale = %q, want %q", recognize.Locale, "en-GB")
	}
	if recognize.Continuous == nil || !*recognize.Continuous || recognize.Interim == nil || !*recognize.Interim {
		t.Errorf("recognize = %+v, want continuous interim", recognize)
	}
}

func TestPlatformRecognizerErrorEvents(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		check func(error) bool
	}{
		{
			name:  "permission",
			event: Event{Event: EventError, Code: CodePermissionDenied},
			check: func(err error) bool { return errors.Is(err, voice.ErrMicrophoneDenied) },
		},
		{
			name:  "other",
			event: Event{Event: EventError, Code: "no-speech", Message: "nothing heard"},
			check: func(err error) bool {
				var recErr *voice.RecognitionError
				return errors.As(err, &recErr) && recErr.Code == "no-speech" && recErr.Message == "nothing heard"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock, _ := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
				if cmd.Cmd == CmdCapabilities {
					return Response{OK: true}, nil
				}
				return Response{OK: true}, []Event{tt.event}
			})

			rec, err := NewPlatform(sock).NewRecognizer()
			if err != nil {
				t.Fatalf("new recognizer: %v", err)
			}
			results, err := rec.Start(context.Background(), "en-US")
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			defer rec.Stop()

			got := collect(t, results, 1)
			if len(got) != 1 || !tt.check(got[0].Err) {
				t.Errorf("results = %+v", got)
			}
		})
	}
}

func TestPlatformRecognizeRefused(t *testing.T) {
	sock, _ := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		if cmd.Cmd == CmdCapabilities {
			return Response{OK: true}, nil
		}
		return Response{OK: false, Code: CodeUnsupported, Error: "no model for locale"}, nil
	})

	rec, err := NewPlatform(sock).NewRecognizer()
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	_, err = rec.Start(context.Background(), "xx-XX")
	if !errors.Is(err, voice.ErrRecognitionUnavailable) {
		t.Errorf("err = %v, want ErrRecognitionUnavailable", err)
	}
	if err := rec.Stop(); err != nil {
		t.Errorf("stop without session: %v", err)
	}
}

func TestPlatformDrivesEngine(t *testing.T) {
	sock, _ := startScriptedDaemon(t, func(cmd Command) (Response, []Event) {
		return Response{OK: true, Recognition: BoolPtr(true)}, nil
	})

	e := voice.New(NewPlatform(sock))
	if e.State() != voice.Idle {
		t.Fatalf("state = %v, want idle", e.State())
	}
	cmd := e.Toggle()
	if cmd == nil {
		t.Fatal("toggle returned nil command")
	}
	e.Update(cmd())
	if e.State() != voice.Listening {
		t.Fatalf("state = %v, want listening (err %v)", e.State(), e.Err())
	}
	if err := e.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if e.State() != voice.Idle {
		t.Errorf("state = %v, want idle", e.State())
	}
}

package daemon

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestLiveDaemonConnection connects to a running speech daemon and checks
// its capabilities. Skipped if the daemon socket doesn't exist.
func TestLiveDaemonConnection(t *testing.T) {
	sockPath := SocketPath()
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("daemon not running (no socket at", sockPath, ")")
	}

	client, err := Connect(sockPath)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	resp, err := client.SendCommand(Command{Cmd: CmdCapabilities})
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	if !resp.OK {
		t.Fatalf("capabilities not ok: %s", resp.Error)
	}
	fmt.Printf("Capabilities: recognition=%v\n", resp.Recognition)

	resp, err = client.SendCommand(Command{Cmd: CmdDevices})
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	fmt.Printf("Devices: ok=%v %v\n", resp.OK, resp.Devices)
}

// TestLiveRecognizerStartStop opens and stops one recognition session
// against a running daemon.
func TestLiveRecognizerStartStop(t *testing.T) {
	sockPath := SocketPath()
	if _, err := os.Stat(sockPath); os.IsNotExist(err) {
		t.Skip("daemon not running (no socket at", sockPath, ")")
	}

	p := NewPlatform(sockPath)
	rec, err := p.NewRecognizer()
	if err != nil {
		t.Skipf("daemon cannot recognise speech: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results, err := rec.Start(ctx, "en-US")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	select {
	case _, ok := <-results:
		for ok {
			_, ok = <-results
		}
	case <-ctx.Done():
		t.Fatal("results channel not closed after stop")
	}
}

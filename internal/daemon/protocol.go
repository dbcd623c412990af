// Package daemon provides the client and protocol types for communicating
// with a local speech daemon over a Unix socket (NDJSON) or a websocket
// (one JSON object per text frame), and a voice.Platform backed by it.
package daemon

// Command names understood by the speech daemon.
const (
	CmdCapabilities = "capabilities"
	CmdDevices      = "devices"
	CmdOpenMic      = "open_mic"
	CmdCloseMic     = "close_mic"
	CmdRecognize    = "recognize"
	CmdStop         = "stop"
)

// Event names streamed by the speech daemon.
const (
	EventSpectrum = "spectrum"
	EventPartial  = "partial"
	EventFinal    = "final"
	EventError    = "error"
	EventStatus   = "status"
)

// Error codes carried in responses and error events.
const (
	CodePermissionDenied = "permission_denied"
	CodeUnsupported      = "unsupported"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd        string `json:"cmd"`
	Locale     string `json:"locale,omitempty"`
	Device     string `json:"device,omitempty"`
	Continuous *bool  `json:"continuous,omitempty"`
	Interim    *bool  `json:"interim,omitempty"`
	FFTSize    int    `json:"fftSize,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK          bool     `json:"ok"`
	Error       string   `json:"error,omitempty"`
	Code        string   `json:"code,omitempty"`
	Recognition *bool    `json:"recognition,omitempty"`
	Devices     []string `json:"devices,omitempty"`
	Device      string   `json:"device,omitempty"`
}

// Event is streamed from the daemon to a connection after open_mic or recognize.
type Event struct {
	Event     string `json:"event"`
	Text      string `json:"text,omitempty"`
	Bins      []int  `json:"bins,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Listening *bool  `json:"listening,omitempty"`
}

// BoolPtr returns a pointer to a bool value. Convenience for building commands.
func BoolPtr(b bool) *bool { return &b }

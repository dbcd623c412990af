package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeyEsc         = "esc"
	KeyTab         = "tab"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyPgUp        = "pgup"
	KeyPgDown      = "pgdown"
	KeyJ           = "j"
	KeyK           = "k"
	KeyEnter       = "enter"
	KeyRefresh     = "ctrl+r"
	KeyToggleVoice = "ctrl+t"
)

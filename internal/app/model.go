package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/conversation"
	"github.com/jwulff/smartsearch/internal/logging"
	"github.com/jwulff/smartsearch/internal/ui"
	"github.com/jwulff/smartsearch/internal/voice"

	tea "github.com/charmbracelet/bubbletea"
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusInput PanelFocus = iota
	FocusHistory
)

// Suggestions are offered on an empty conversation and picked with 1..n.
var Suggestions = []string{
	"Text inviting friend to wedding",
	"Morning routine for productivity",
	"Count the number of items in an image",
}

// Store is what the UI needs from session persistence.
type Store interface {
	conversation.SessionStore
	LoadAll() []chat.Session
}

// Deps are the collaborators the root model drives.
type Deps struct {
	Answerer conversation.Answerer
	Store    Store
	// Voice may be nil when voice input is turned off.
	Voice              *voice.Engine
	Logger             *slog.Logger
	TypewriterInterval time.Duration
	Now                func() time.Time
}

// Model is the root bubbletea model for the smartsearch TUI.
type Model struct {
	conv  conversation.Controller
	voice *voice.Engine
	store Store
	log   *slog.Logger
	now   func() time.Time

	// Widgets
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	markdown *markdownRenderer

	// History panel
	sessions        []chat.Session
	selectedSession int

	// UI state
	focusedPanel PanelFocus
	width        int
	height       int
	chatLive     bool

	// Errors
	errorMessage   string
	errorTransient bool
	voiceState     voice.State
}

// New creates a new Model with an empty conversation.
func New(deps Deps) Model {
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	opts := []conversation.Option{conversation.WithLogger(log), conversation.WithClock(now)}
	if deps.TypewriterInterval > 0 {
		opts = append(opts, conversation.WithTypewriterInterval(deps.TypewriterInterval))
	}

	input := textinput.New()
	input.Placeholder = "Ask Anything!"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	m := Model{
		conv:         conversation.New(deps.Answerer, deps.Store, opts...),
		voice:        deps.Voice,
		store:        deps.Store,
		log:          log.With("component", "app"),
		now:          now,
		input:        input,
		viewport:     viewport.New(60, 20),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(ui.SpinnerStyle)),
		markdown:     &markdownRenderer{},
		chatLive:     true,
		focusedPanel: FocusInput,
	}
	if m.voice != nil {
		m.voiceState = m.voice.State()
	}
	m.syncViewport()
	return m
}

// Init loads the history panel and starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, loadSessionsCmd(m.store))
}

// loadSessionsCmd reads saved sessions for the history panel.
func loadSessionsCmd(store Store) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		return SessionsLoadedMsg{Sessions: store.LoadAll()}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	m.syncVoice()
	cmd = tea.Batch(cmd, m.checkVoiceError())
	m.syncViewport()
	return m, cmd
}

func (m *Model) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(10, m.chatPanelWidth()-4)
		return nil

	case conversation.ReplyMsg:
		cmd := m.conv.Update(msg)
		m.chatLive = true
		return tea.Batch(cmd, loadSessionsCmd(m.store))

	case voice.TranscriptMsg:
		if m.conv.Busy() {
			m.input.SetValue(msg.Text)
			m.input.CursorEnd()
			m.log.Info("transcript held in input while busy", "chars", len(msg.Text))
			return nil
		}
		return m.send(msg.Text)

	case spinner.TickMsg:
		if !m.conv.Busy() {
			return nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return cmd

	case SessionsLoadedMsg:
		m.sessions = msg.Sessions
		if m.selectedSession >= len(m.sessions) {
			m.selectedSession = max(0, len(m.sessions)-1)
		}
		return nil

	case ErrorMsg:
		return m.showError(msg.Message, msg.Transient)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return nil
	}

	// Typewriter ticks go to the conversation, engine messages to the engine.
	// Each ignores what it does not own.
	cmds := []tea.Cmd{m.conv.Update(msg)}
	if m.voice != nil {
		cmds = append(cmds, m.voice.Update(msg))
	}
	if m.focusedPanel == FocusInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// send hands text to the conversation and starts the busy indicator.
func (m *Model) send(text string) tea.Cmd {
	cmd := m.conv.Send(text)
	if cmd == nil {
		return nil
	}
	m.chatLive = true
	// An open voice cycle would finish while busy and its transcript be lost.
	if m.voice != nil && m.voice.State() == voice.Listening {
		m.voice.Toggle()
	}
	return tea.Batch(cmd, m.spinner.Tick, loadSessionsCmd(m.store))
}

func (m *Model) showError(message string, transient bool) tea.Cmd {
	m.errorMessage = message
	m.errorTransient = transient
	if transient {
		return clearTransientErrorCmd()
	}
	return nil
}

// syncVoice keeps the microphone unavailable while a request is in flight.
func (m *Model) syncVoice() {
	if m.voice != nil {
		m.voice.SetDisabled(m.conv.Busy())
	}
}

// checkVoiceError surfaces a transition into the engine's error state once.
func (m *Model) checkVoiceError() tea.Cmd {
	if m.voice == nil {
		return nil
	}
	prev := m.voiceState
	m.voiceState = m.voice.State()
	if m.voiceState == voice.Error && prev != voice.Error {
		m.log.Warn("voice unavailable", "error", m.voice.Err())
		return m.showError(voice.UserMessage(m.voice.Err()), true)
	}
	return nil
}

// handleKey processes key presses.
func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case KeyCtrlC:
		return m.quit()

	case KeyTab:
		if m.focusedPanel == FocusHistory {
			m.focusedPanel = FocusInput
			return m.input.Focus()
		}
		m.focusedPanel = FocusHistory
		m.input.Blur()
		return nil

	case KeyRefresh:
		m.conv.Refresh()
		m.chatLive = true
		m.focusedPanel = FocusInput
		return tea.Batch(m.input.Focus(), loadSessionsCmd(m.store))

	case KeyToggleVoice:
		if m.voice == nil {
			return m.showError("Voice input is turned off", true)
		}
		if m.voice.State() == voice.Error {
			return m.showError(voice.UserMessage(m.voice.Err()), true)
		}
		return m.voice.Toggle()

	case KeyPgUp:
		m.viewport.ViewUp()
		m.chatLive = m.viewport.AtBottom()
		return nil

	case KeyPgDown:
		m.viewport.ViewDown()
		m.chatLive = m.viewport.AtBottom()
		return nil
	}

	if m.focusedPanel == FocusHistory {
		return m.handleHistoryKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m *Model) handleHistoryKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper:
		return m.quit()

	case KeyEsc:
		m.focusedPanel = FocusInput
		return m.input.Focus()

	case KeyJ, KeyDown:
		if m.selectedSession < len(m.sessions)-1 {
			m.selectedSession++
		}
		return nil

	case KeyK, KeyUp:
		if m.selectedSession > 0 {
			m.selectedSession--
		}
		return nil

	case KeyEnter:
		if m.selectedSession >= len(m.sessions) {
			return nil
		}
		id := m.sessions[m.selectedSession].ID
		if !m.conv.LoadSession(id) {
			return m.showError("Chat no longer saved", true)
		}
		m.chatLive = true
		m.focusedPanel = FocusInput
		return tea.Batch(m.input.Focus(), loadSessionsCmd(m.store))
	}
	return nil
}

func (m *Model) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch key := msg.String(); key {
	case KeyEnter:
		cmd := m.send(m.input.Value())
		if cmd != nil {
			m.input.Reset()
		}
		return cmd

	case KeyUp:
		m.viewport.LineUp(1)
		m.chatLive = m.viewport.AtBottom()
		return nil

	case KeyDown:
		m.viewport.LineDown(1)
		m.chatLive = m.viewport.AtBottom()
		return nil

	default:
		if n, ok := suggestionIndex(key); ok && m.conv.Len() == 0 && m.input.Value() == "" {
			return m.send(Suggestions[n])
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func suggestionIndex(key string) (int, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return 0, false
	}
	n := int(key[0] - '1')
	return n, n < len(Suggestions)
}

func (m *Model) quit() tea.Cmd {
	if m.voice != nil {
		if err := m.voice.Close(); err != nil {
			m.log.Debug("close voice", "error", err)
		}
	}
	return tea.Quit
}

// syncViewport re-renders the conversation into the viewport.
func (m *Model) syncViewport() {
	m.viewport.Width = m.chatPanelWidth()
	m.viewport.Height = m.contentHeight() - 1 // panel header
	m.viewport.SetContent(strings.Join(m.chatLines(m.viewport.Width), "\n"))
	if m.chatLive {
		m.viewport.GotoBottom()
	}
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + divider(1) + divider(1) + input(1) + error(1) + footer(1)
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) historyPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*30/100)
}

func (m Model) chatPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.historyPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.input.View())

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("SMARTSEARCH")
	if m.conv.Len() == 0 {
		return title
	}
	return title + ui.DimStyle.Render(" · "+m.conv.Title())
}

func (m Model) renderStatusBar() string {
	var dot string
	switch {
	case m.voice == nil:
		dot = ui.IdleDotStyle.Render("○ VOICE OFF")
	case m.voice.State() == voice.Listening:
		dot = ui.ListeningDotStyle.Render("● LISTENING") + "  " + renderLevelMeter("MIC", m.voice.Volume())
	case m.voice.State() == voice.Acquiring:
		dot = ui.PartialTextStyle.Render("◌ STARTING")
	case m.voice.State() == voice.Error:
		dot = ui.ErrorTextStyle.Render("✕ MIC")
	default:
		dot = ui.IdleDotStyle.Render("○ MIC")
	}

	var processing string
	if m.conv.Busy() {
		processing = "  " + m.spinner.View() + ui.SpinnerStyle.Render(" Thinking...")
	}

	return dot + processing
}

// renderLevelMeter draws volume (0..100) as an eight-cell bar.
func renderLevelMeter(label string, volume float64) string {
	const barLen = 8
	filled := int(volume / 100 * barLen)
	if filled > barLen {
		filled = barLen
	}

	var bar string
	for i := 0; i < barLen; i++ {
		if i < filled {
			pct := float64(i) / float64(barLen)
			if pct > 0.6 {
				bar += ui.LevelYellowStyle.Render("█")
			} else {
				bar += ui.LevelGreenStyle.Render("█")
			}
		} else {
			bar += ui.LevelGrayStyle.Render("░")
		}
	}
	return ui.DimStyle.Render(label) + " " + bar
}

func (m Model) renderMainContent() string {
	historyW := m.historyPanelWidth()
	contentH := m.contentHeight()

	historyLines := strings.Split(m.renderHistoryPanel(historyW, contentH), "\n")
	chatLines := strings.Split(m.renderChatPanel(contentH), "\n")

	for len(historyLines) < contentH {
		historyLines = append(historyLines, strings.Repeat(" ", historyW))
	}
	for len(chatLines) < contentH {
		chatLines = append(chatLines, "")
	}

	divider := ui.DividerStyle.Render("│")
	rows := make([]string, 0, contentH)
	for i := 0; i < contentH; i++ {
		rows = append(rows, historyLines[i]+divider+" "+chatLines[i])
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderHistoryPanel(width, height int) string {
	label := fmt.Sprintf("HISTORY (%d)", len(m.sessions))
	var header string
	if m.focusedPanel == FocusHistory {
		header = ui.PanelTitleActiveStyle.Render(label)
	} else {
		header = ui.PanelTitleStyle.Render(label)
	}

	lines := []string{padRight(header, width)}
	if len(m.sessions) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No chats yet..."))
	}

	for i, s := range m.sessions {
		marker := "  "
		if s.ID == m.conv.SessionID() {
			marker = "● "
		}
		title := truncateToWidth(s.Title, max(5, width-4))
		var line string
		if i == m.selectedSession && m.focusedPanel == FocusHistory {
			line = ui.SelectedStyle.Render("> " + title)
		} else {
			line = marker + title
		}
		lines = append(lines, line)
		if !s.UpdatedAt.IsZero() {
			lines = append(lines, ui.TimestampStyle.Render("    "+humanize.RelTime(s.UpdatedAt, m.now(), "ago", "from now")))
		}
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderChatPanel(height int) string {
	var badge string
	if m.chatLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}

	var header string
	if m.focusedPanel == FocusInput {
		header = ui.PanelTitleActiveStyle.Render("CHAT") + badge
	} else {
		header = ui.PanelTitleStyle.Render("CHAT") + badge
	}

	lines := []string{header}
	lines = append(lines, strings.Split(m.viewport.View(), "\n")...)
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

// chatLines lays out the whole conversation at width.
func (m Model) chatLines(width int) []string {
	textWidth := max(10, width-2)

	if m.conv.Len() == 0 {
		lines := []string{"", ui.DimStyle.Render("  Try one of these:")}
		for i, s := range Suggestions {
			lines = append(lines, "  "+ui.SuggestionKeyStyle.Render(fmt.Sprintf("[%d]", i+1))+" "+s)
		}
		lines = append(lines, "", ui.DimStyle.Render("  Or type a question and press Enter"))
		return append(lines, m.interimLines(textWidth)...)
	}

	var lines []string
	for i, msg := range m.conv.Messages() {
		if msg.IsUser {
			lines = append(lines, ui.UserLabelStyle.Render("You"))
			for _, wl := range wrapText(msg.Text, textWidth) {
				lines = append(lines, "  "+wl)
			}
			lines = append(lines, "")
			continue
		}

		lines = append(lines, ui.BotLabelStyle.Render("SmartSearch"))
		for _, src := range msg.Sources {
			card := ui.SourceIDStyle.Render(fmt.Sprintf("[%d]", src.ID)) + " " + src.Title + " " + ui.SourceDomainStyle.Render(src.Domain)
			lines = append(lines, "  "+truncateToWidth(card, textWidth))
		}
		for _, wl := range m.markdown.render(m.conv.DisplayText(i), textWidth) {
			lines = append(lines, "  "+wl)
		}
		lines = append(lines, "")
	}

	if m.conv.Busy() {
		lines = append(lines, m.spinner.View()+ui.SpinnerStyle.Render(" Thinking..."))
	}
	return append(lines, m.interimLines(textWidth)...)
}

func (m Model) interimLines(width int) []string {
	if m.voice == nil || m.voice.State() != voice.Listening {
		return nil
	}
	text := m.voice.Interim()
	if text == "" {
		return []string{ui.PartialTextStyle.Render("  Listening...")}
	}
	var lines []string
	for _, wl := range wrapText(text+"▌", width) {
		lines = append(lines, "  "+ui.PartialTextStyle.Render(wl))
	}
	return lines
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Send"))
	if m.voice != nil && m.voice.State() == voice.Listening {
		parts = append(parts, ui.FooterKeyStyle.Render("^T")+ui.FooterDescStyle.Render(" Stop"))
	} else if m.voice != nil && m.voice.CanToggle() {
		parts = append(parts, ui.FooterKeyStyle.Render("^T")+ui.FooterDescStyle.Render(" Speak"))
	}
	parts = append(parts, ui.FooterKeyStyle.Render("^R")+ui.FooterDescStyle.Render(" New chat"))
	parts = append(parts, ui.FooterKeyStyle.Render("Tab")+ui.FooterDescStyle.Render(" History"))
	if m.focusedPanel == FocusHistory {
		parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Nav"))
		parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))
	} else {
		parts = append(parts, ui.FooterKeyStyle.Render("↑↓")+ui.FooterDescStyle.Render(" Scroll"))
		parts = append(parts, ui.FooterKeyStyle.Render("^C")+ui.FooterDescStyle.Render(" Quit"))
	}

	return strings.Join(parts, "  ")
}

// markdownRenderer renders replies containing code fences with glamour and
// wraps everything else as plain text. Renderers are cached per width.
type markdownRenderer struct {
	width    int
	renderer *glamour.TermRenderer
}

func (r *markdownRenderer) render(text string, width int) []string {
	if !strings.Contains(text, "```") {
		return wrapText(text, width)
	}
	if r.renderer == nil || r.width != width {
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return wrapText(text, width)
		}
		r.renderer, r.width = tr, width
	}
	out, err := r.renderer.Render(text)
	if err != nil {
		return wrapText(text, width)
	}
	return strings.Split(strings.Trim(out, "\n"), "\n")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible <= width {
		return s
	}
	// Simple truncation for non-styled strings
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		} else {
			lines = append(lines, "")
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

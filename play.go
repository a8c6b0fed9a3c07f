package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	panelHeight = 6
	barWidth    = 20
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	guessStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	wonStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	panelStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1)
)

// gameEventMsg carries an observer event into the program loop.
type gameEventMsg Event

// clueDoneMsg reports the end of one SubmitClue call.
type clueDoneMsg struct {
	err error
}

// imageFile is a FrameSource that reads a still picture from disk.
type imageFile string

func (f imageFile) Snapshot() (Frame, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return Frame{}, err
	}
	return FrameFromImage(data), nil
}

// playModel is the terminal client. Capture is file based: /image and
// /voice read a picture or a recording from disk.
type playModel struct {
	ctx      context.Context
	game     *Game
	caps     Capabilities
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	thinking bool
	notice   string
}

func newPlayModel(ctx context.Context, game *Game, caps Capabilities) playModel {
	commands := []string{"Type a clue"}
	if caps.Video {
		commands = append(commands, "/image <file>")
	}
	if caps.Audio {
		commands = append(commands, "/voice <file>")
	}
	ti := textinput.New()
	ti.Placeholder = strings.Join(append(commands, "/yes", "/no", "/new"), ", ") + " or /quit"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return playModel{
		ctx:      ctx,
		game:     game,
		caps:     caps,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
	}
}

func (m playModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-panelHeight-6, 3)
		m.input.Width = max(msg.Width-4, 10)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			cmd, quit := m.handleLine(line)
			if quit {
				return m, tea.Quit
			}
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case gameEventMsg:
		// Events arrive asynchronously and may be reordered; the game is
		// the source of truth.
		m.thinking = m.game.Busy()

	case clueDoneMsg:
		m.thinking = m.game.Busy()
		switch {
		case msg.err == nil:
		case errors.Is(msg.err, ErrRequestInFlight):
			m.notice = "Still thinking about your last clue."
		case errors.Is(msg.err, ErrNotPlaying):
			m.notice = "The game is over. Type /new to play again."
		case errors.Is(msg.err, ErrStaleResponse):
			m.notice = "That answer belonged to the previous game."
		default:
			// Already shown in the transcript as an error turn.
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport.SetContent(renderTranscript(m.game.Snapshot().History, m.viewport.Width))
	m.viewport.GotoBottom()

	return m, tea.Batch(cmds...)
}

// handleLine interprets one line of input. It returns the command that plays
// the clue, if any, and whether the program should exit.
func (m *playModel) handleLine(line string) (tea.Cmd, bool) {
	m.notice = ""
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	var clue Clue
	switch cmd {
	case "/quit":
		return nil, true
	case "/new":
		m.game.Start()
		return nil, false
	case "/yes":
		clue = TextClue(confirmGuess)
	case "/no":
		clue = TextClue(denyGuess)
	case "/image":
		if !m.caps.Video {
			m.notice = "Image clues are not available."
			return nil, false
		}
		var src FrameSource = imageFile(arg)
		frame, err := src.Snapshot()
		if err != nil {
			m.notice = fmt.Sprintf("Could not read image: %v", err)
			return nil, false
		}
		clue, err = EncodeFrame(frame)
		if err != nil {
			m.notice = "That file is not a readable JPEG, PNG or GIF image."
			return nil, false
		}
	case "/voice":
		if !m.caps.Audio {
			m.notice = "Voice clues are not available."
			return nil, false
		}
		f, err := os.Open(arg)
		if err != nil {
			m.notice = fmt.Sprintf("Could not read recording: %v", err)
			return nil, false
		}
		var rec Recorder
		_, err = rec.ReadFrom(f)
		f.Close()
		if err != nil {
			m.notice = fmt.Sprintf("Could not read recording: %v", err)
			return nil, false
		}
		clue, err = rec.Finish()
		if err != nil {
			// Empty recordings are dropped.
			return nil, false
		}
	default:
		if !CanSubmitText(line) {
			return nil, false
		}
		clue = TextClue(line)
	}

	m.thinking = true
	return m.submit(clue), false
}

func (m *playModel) submit(clue Clue) tea.Cmd {
	game, ctx := m.game, m.ctx
	return func() tea.Msg {
		_, err := game.SubmitClue(ctx, clue, "")
		return clueDoneMsg{err: err}
	}
}

func (m playModel) View() string {
	snap := m.game.Snapshot()

	header := titleStyle.Render("Twenty Questions") + mutedStyle.Render(fmt.Sprintf("   Round %d/%d   ", snap.Rounds, snap.RoundLimit))
	switch snap.Status {
	case StatusWon:
		header += wonStyle.Render(fmt.Sprintf("Gemini won: %q in %d rounds. /new to play again.", snap.LastGuess, snap.Rounds))
	case StatusLost:
		header += errorStyle.Render("Gemini gave up. /new to play again.")
	}

	status := ""
	if m.thinking {
		status = m.spinner.View() + " thinking..."
	} else if m.notice != "" {
		status = errorStyle.Render(m.notice)
	} else if last, ok := m.game.LastTurn(); ok && last.IsGuess && snap.Status == StatusPlaying {
		status = mutedStyle.Render("Was that right? Answer /yes or /no.")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		renderReasoning(snap.ReasoningView, m.width),
		status,
		m.input.View(),
	)
}

func renderTranscript(turns []Turn, width int) string {
	wrap := lipgloss.NewStyle().Width(max(width-2, 10))

	var b strings.Builder
	for _, t := range turns {
		var line string
		switch {
		case t.Role == RoleUser:
			line = userStyle.Render("you  ") + t.Content
			if t.Type != ModalityText {
				line += mutedStyle.Render(" [" + string(t.Type) + "]")
			}
		case t.IsError:
			line = errorStyle.Render("gemini  " + t.Content)
		case t.IsGuess:
			line = assistantStyle.Render("gemini  ") + guessStyle.Render(t.Content)
		default:
			line = assistantStyle.Render("gemini  " + t.Content)
		}
		b.WriteString(wrap.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func renderReasoning(v ReasoningView, width int) string {
	text := v.Reasoning
	if text == "" {
		text = "Thinking process will appear here..."
	}
	lines := strings.Split(text, "\n")
	if len(lines) > panelHeight-2 {
		lines = lines[len(lines)-(panelHeight-2):]
	}

	body := mutedStyle.Render("confidence ") + confidenceBar(v.Confidence, barWidth) +
		fmt.Sprintf(" %d%%\n", v.Percent()) + strings.Join(lines, "\n")
	return panelStyle.Width(max(width-2, 20)).Render(body)
}

// confidenceBar draws a fixed-width bar; out-of-range values are clamped.
func confidenceBar(c float64, width int) string {
	filled := int(clampConfidence(c)*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// Play runs the terminal client against Gemini.
func Play(ctx context.Context, cfg *Config) error {
	gemini, err := NewGeminiClient(ctx, cfg.backend())
	if err != nil {
		return err
	}
	defer gemini.Close()

	var prog *tea.Program
	game := NewGame("terminal", gemini, cfg.model, func(e Event) {
		// Start runs inside Update, so never block the program loop.
		if prog != nil {
			go prog.Send(gameEventMsg(e))
		}
	})
	game.Start()

	prog = tea.NewProgram(newPlayModel(ctx, game, cfg.capabilities()), tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

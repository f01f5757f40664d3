// Command chat-client is a thin terminal client for the chat protocol.
//
// Screens
// -------
//
//	stateName — prompts for a user name and sends NAME until REGISTERED
//	stateChat — full-screen scrollback plus a single input line; every
//	            line the user types is forwarded to the server verbatim
//	            as a protocol command (JOIN #room, SAY #room hi, ...)
//
// Concurrency
// -----------
//
// A single goroutine reads newline-delimited lines from the TCP
// connection and forwards them to the lines channel. The Bubble Tea
// event loop consumes one line at a time via waitForLine (a tea.Cmd),
// queuing the next read immediately after each line is processed.
// Inbound PING is answered with PONG on that same goroutine path,
// transparently to the user.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ircchat/internal/wire"
)

const version = "0.1.0"

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	focusedLabelStyle = lipgloss.NewStyle().Foreground(cyan).Width(10)
	hintStyle          = lipgloss.NewStyle().Foreground(gray).Italic(true)
	errorStyle         = lipgloss.NewStyle().Foreground(red)
	sysStyle           = lipgloss.NewStyle().Foreground(yellow).Italic(true)
)

type serverLineMsg string
type disconnectedMsg struct{}

type appState int

const (
	stateName appState = iota
	stateChat
)

type model struct {
	conn  net.Conn
	lines chan string

	state appState
	me    string

	nameInput textinput.Model
	statusMsg string

	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string

	width, height int
}

func newModel(conn net.Conn, lines chan string) model {
	nf := textinput.New()
	nf.Placeholder = "name"
	nf.Focus()
	nf.CharLimit = 19
	nf.Width = 24

	ci := textinput.New()
	ci.Placeholder = "JOIN #room, SAY #room hello, LEAVE #room, USERS #room, ROOMS, QUIT…"
	ci.CharLimit = 900

	return model{
		conn:      conn,
		lines:     lines,
		state:     stateName,
		nameInput: nf,
		chatInput: ci,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.lines))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case serverLineMsg:
		m = m.handleServerLine(string(msg))
		return m, waitForLine(m.lines)

	case disconnectedMsg:
		m.statusMsg = "disconnected from server"
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateName:
			return m.handleNameKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

func (m model) handleNameKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		name := strings.TrimSpace(m.nameInput.Value())
		if name == "" {
			m.statusMsg = "a name is required"
			return m, nil
		}
		u, err := wire.ParseUser("@" + name)
		if err != nil {
			m.statusMsg = err.Error()
			return m, nil
		}
		sendLine(m.conn, wire.New("NAME").WithParams(wire.UserParam(u)))
		m.statusMsg = "registering…"
		return m, nil
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		fmt.Fprint(m.conn, "QUIT\n")
		return m, tea.Quit

	case tea.KeyEnter:
		raw := strings.TrimSpace(m.chatInput.Value())
		if raw == "" {
			return m, nil
		}
		m.chatInput.Reset()
		fmt.Fprint(m.conn, raw+"\n")
		if raw == "QUIT" {
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// handleServerLine interprets one inbound protocol line. PING is
// answered with PONG without surfacing anything to the user.
func (m model) handleServerLine(line string) model {
	fields := strings.SplitN(line, " ", 2)
	head := fields[0]

	switch head {
	case "CONNECTED":
		return m

	case "PING":
		fmt.Fprint(m.conn, "PONG\n")
		return m

	case "REGISTERED":
		m.state = stateChat
		m.me = strings.TrimSpace(m.nameInput.Value())
		m.chatInput.Focus()
		m.nameInput.Blur()
		m.appendChat(sysStyle.Render("registered as @" + m.me))
		return m

	case "ERROR":
		payload := ""
		if len(fields) == 2 {
			payload = fields[1]
		}
		if m.state == stateName {
			m.statusMsg = payload
			return m
		}
		m.appendChat(errorStyle.Render("! " + payload))
		return m
	}

	m.appendChat(line)
	return m
}

func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	switch m.state {
	case stateName:
		return m.viewName()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewName() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	title := titleStyle.Render("  chat-client  ")
	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		focusedLabelStyle.Render("Name")+"  "+m.nameInput.View(),
		"",
		hintStyle.Render("Enter: register   Ctrl+C: quit"),
		"",
		m.renderStatus(),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}
	hdr := headerStyle.Width(m.width).
		Render(fmt.Sprintf(" @%s  ·  PgUp/Dn: Scroll  ·  Ctrl+C: Quit", m.me))
	footer := footerBorderStyle.Width(m.width - 2).Render(m.chatInput.View())
	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

func (m model) renderStatus() string {
	if m.statusMsg == "" {
		return ""
	}
	if m.statusMsg == "registering…" {
		return hintStyle.Render(m.statusMsg)
	}
	return errorStyle.Render(m.statusMsg)
}

// waitForLine returns a tea.Cmd that blocks until the next line arrives
// on ch. When ch is closed (server disconnected), it returns
// disconnectedMsg.
func waitForLine(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverLineMsg(line)
	}
}

// sendLine serializes msg and writes it to conn.
func sendLine(conn net.Conn, msg wire.Message) {
	data, err := msg.Serialize()
	if err != nil {
		return
	}
	conn.Write(data)
}

func main() {
	help := flag.Bool("h", false, "show help")
	flag.BoolVar(help, "help", false, "show help")
	showVersion := flag.Bool("V", false, "show version")
	flag.BoolVar(showVersion, "version", false, "show version")
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println("chat-client", version)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	addr := flag.Arg(0)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	lines := make(chan string, 64)

	go func() {
		defer close(lines)
		r := bufio.NewReaderSize(conn, wire.MaxLineLen+64)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- strings.TrimRight(line, "\n")
			}
			if err != nil {
				return
			}
		}
	}()

	p := tea.NewProgram(
		newModel(conn, lines),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chat-client [-h|--help] [-V|--version] <host:port>\n")
}

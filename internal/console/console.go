// Package console is the line-oriented terminal front end of telecaller.
//
// Plain lines are sent to the chat agent. Commands start with a slash:
//
//	/image <path> [text]  send an image with an optional question
//	/speak [n]            read AI message n aloud (default: the latest); again to stop
//	/call                 start a voice call
//	/end                  end the voice call
//	/transcript           print the call transcript
//	/status               print the call status
//	/help                 list commands
//	/quit                 exit
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/telecaller/internal/app"
	"github.com/MrWong99/telecaller/internal/call"
	"github.com/MrWong99/telecaller/internal/chat"
	"github.com/MrWong99/telecaller/internal/speech"
	"github.com/MrWong99/telecaller/internal/transcript"
)

const helpText = `Commands:
  <text>                chat with the agent
  /image <path> [text]  send an image
  /speak [n]            read AI message n aloud (toggle)
  /call, /end           start or end a voice call
  /transcript           show the call transcript
  /status               show the call status
  /quit                 exit`

type styles struct {
	user   lipgloss.Style
	ai     lipgloss.Style
	status lipgloss.Style
	err    lipgloss.Style
	help   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5fafff")),
		ai:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		status: r.NewStyle().Foreground(lipgloss.Color("#ffaf00")),
		err:    r.NewStyle().Foreground(lipgloss.Color("#ff5f5f")),
		help:   r.NewStyle().Foreground(lipgloss.Color("#6e7681")),
	}
}

// Console reads commands from in and writes to out. Output from background
// callbacks is serialized with the command loop.
type Console struct {
	in     io.Reader
	out    io.Writer
	styles styles

	mu      sync.Mutex
	printed map[string]bool
}

// New returns a Console. Colours are used only when out is a terminal.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:      in,
		out:     out,
		styles:  newStyles(lipgloss.NewRenderer(out)),
		printed: make(map[string]bool),
	}
}

// Run is an [app.FrontEnd]. It greets the user and processes lines until
// /quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context, a *app.App) error {
	a.Call().OnStatus(func(s call.Status) { c.callStatus(a, s) })
	a.Call().Transcript().OnChange(c.transcriptChanged)
	a.Reader().OnChange(func(_ string, st speech.State) {
		if st == speech.StatePlaying {
			c.println(c.styles.help.Render("(reading aloud, /speak again to stop)"))
		}
	})

	c.println(c.styles.help.Render(helpText))
	if reply, err := a.Chat().Greet(ctx); err == nil {
		c.printMessage(1, reply)
	}

	lines := c.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, a, line); quit {
				return nil
			}
		}
	}
}

// scan feeds input lines to a channel that is closed at end of input.
func (c *Console) scan(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (c *Console) handle(ctx context.Context, a *app.App, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, a, line, nil)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		c.println(c.styles.help.Render(helpText))
	case "/image":
		c.image(ctx, a, arg)
	case "/speak":
		c.speak(ctx, a, arg)
	case "/call":
		c.startCall(ctx, a)
	case "/end":
		_ = a.Call().EndCall(ctx)
	case "/transcript":
		c.printTranscript(a.Call().Transcript().Entries())
	case "/status":
		c.println(c.styles.status.Render("● " + a.Call().Status().Label()))
	default:
		c.errorf("unknown command %s, try /help", cmd)
	}
	return false
}

func (c *Console) send(ctx context.Context, a *app.App, text string, img *chat.Attachment) {
	reply, err := a.Chat().Send(ctx, text, img)
	switch {
	case errors.Is(err, chat.ErrBusy):
		c.errorf("still waiting for the previous reply")
		return
	case err != nil:
		c.errorf("%v", err)
		return
	}
	c.printMessage(len(a.Chat().Messages()), reply)
}

func (c *Console) image(ctx context.Context, a *app.App, arg string) {
	path, text, _ := strings.Cut(arg, " ")
	if path == "" {
		c.errorf("usage: /image <path> [text]")
		return
	}
	img, err := chat.LoadAttachment(path)
	if err != nil {
		c.errorf("%v", err)
		return
	}
	c.send(ctx, a, text, img)
}

func (c *Console) speak(ctx context.Context, a *app.App, arg string) {
	msgs := a.Chat().Messages()
	idx := -1
	if arg == "" {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Sender == chat.SenderAI {
				idx = i
				break
			}
		}
	} else if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(msgs) {
		idx = n - 1
	}
	if idx < 0 || msgs[idx].Sender != chat.SenderAI {
		c.errorf("no agent message to read")
		return
	}

	// Toggle blocks while the speech is synthesized.
	go func(m chat.Message) {
		if err := a.Reader().Toggle(ctx, m.ID, m.Text); err != nil {
			c.errorf("%v", err)
		}
	}(msgs[idx])
}

func (c *Console) startCall(ctx context.Context, a *app.App) {
	err := a.Call().StartCall(ctx)
	var permErr *call.PermissionError
	var connErr *call.ConnectionError
	switch {
	case err == nil:
	case errors.Is(err, call.ErrCallActive):
		c.errorf("a call is already in progress")
	case errors.As(err, &permErr):
		c.errorf("microphone unavailable: %v", permErr.Err)
	case errors.As(err, &connErr):
		c.errorf("could not connect: %v", connErr.Err)
	default:
		c.errorf("%v", err)
	}
}

func (c *Console) callStatus(a *app.App, s call.Status) {
	c.println(c.styles.status.Render("● " + s.Label()))
	if s != call.StatusEnded {
		return
	}
	if err := a.Call().Err(); err != nil {
		c.errorf("%v", err)
	}
}

// transcriptChanged prints each entry once, when it becomes final.
func (c *Console) transcriptChanged(entries []transcript.Entry) {
	c.mu.Lock()
	if len(entries) == 0 {
		clear(c.printed)
	}
	var fresh []transcript.Entry
	for _, e := range entries {
		if e.IsFinal && e.Text != "" && !c.printed[e.ID] {
			c.printed[e.ID] = true
			fresh = append(fresh, e)
		}
	}
	c.mu.Unlock()
	c.printTranscript(fresh)
}

func (c *Console) printTranscript(entries []transcript.Entry) {
	for _, e := range entries {
		label := c.styles.user.Render("you")
		if e.Speaker == transcript.SpeakerAI {
			label = c.styles.ai.Render("agent")
		}
		c.println(fmt.Sprintf("%s (call): %s", label, e.Text))
	}
}

func (c *Console) printMessage(n int, m chat.Message) {
	label := c.styles.user.Render("you")
	if m.Sender == chat.SenderAI {
		label = c.styles.ai.Render("agent")
	}
	c.println(fmt.Sprintf("[%d] %s: %s", n, label, m.Text))
}

func (c *Console) errorf(format string, args ...any) {
	c.println(c.styles.err.Render("! " + fmt.Sprintf(format, args...)))
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

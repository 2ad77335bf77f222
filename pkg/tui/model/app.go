package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/opsconsole/pkg/logstream"
	"github.com/modoterra/opsconsole/pkg/transfer"
)

// App is the root Bubble Tea model of the execution log view.
type App struct {
	// Stream
	ctx         context.Context
	session     *logstream.Session
	executionID string
	token       string
	events      chan tea.Msg
	stop        func()

	// State
	state         logstream.State
	err           error
	follow        bool
	loginRequired bool
	window        *transfer.Window
	transfer      transfer.Result
	dirty         bool
	flushPending  bool

	// UI
	viewport viewport.Model
	spinner  spinner.Model
	width    int
	height   int
	ready    bool

	statusMsg string
}

// New creates the log view for executionID. The session must be idle; New
// registers its handlers and Init opens it.
func New(ctx context.Context, session *logstream.Session, executionID, token string, windowSize int) App {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan tea.Msg, 256)
	quit := make(chan struct{})

	forward := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-quit:
		}
	}
	session.OnStateChange(func(c logstream.StateChange) { forward(stateMsg(c)) })
	session.OnChunk(func(c logstream.Chunk) { forward(chunkMsg(c)) })

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = connectingStyle

	return App{
		ctx:         ctx,
		session:     session,
		executionID: executionID,
		token:       token,
		events:      events,
		stop: sync.OnceFunc(func() {
			close(quit)
			cancel()
			_ = session.Close()
		}),
		state:    logstream.StateIdle,
		follow:   true,
		window:   transfer.NewWindow(windowSize),
		transfer: transfer.None,
		spinner:  sp,
	}
}

// LoginRequired reports whether the view quit because no token was
// available.
func (a App) LoginRequired() bool { return a.loginRequired }

// Err returns the error the stream closed with, if any.
func (a App) Err() error { return a.err }

// Init opens the session and starts listening for its events.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		openCmd(a.ctx, a.session, a.executionID, a.token),
		waitForEvent(a.ctx, a.events),
		a.spinner.Tick,
		tea.SetWindowTitle("opsconsole: execution "+a.executionID),
	)
}

// stateMsg carries a session state transition.
type stateMsg logstream.StateChange

// chunkMsg carries one inbound log frame.
type chunkMsg logstream.Chunk

// flushMsg asks for the buffered content to be copied into the viewport.
type flushMsg struct{}

// frameInterval bounds how often streamed content is re-rendered.
const frameInterval = time.Second / 30

func flushCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return flushMsg{} })
}

// openFailedMsg carries an error returned by Session.Open.
type openFailedMsg struct{ err error }

func openCmd(ctx context.Context, s *logstream.Session, executionID, token string) tea.Cmd {
	return func() tea.Msg {
		if err := s.Open(ctx, executionID, token); err != nil {
			return openFailedMsg{err}
		}
		return nil
	}
}

func waitForEvent(ctx context.Context, events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-events:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if !a.ready {
			a.viewport = viewport.New(msg.Width, a.viewportHeight())
			a.ready = true
		}
		a.layout()
		a.refresh()
		return a, nil

	case stateMsg:
		a.state = msg.To
		if msg.To == logstream.StateClosed {
			if a.dirty {
				a.refresh()
			}
			a.err = msg.Err
			if msg.Err != nil {
				a.statusMsg = "stream closed: " + msg.Err.Error()
			} else {
				a.statusMsg = "stream ended"
			}
		}
		return a, waitForEvent(a.ctx, a.events)

	case chunkMsg:
		if r := a.window.Feed(logstream.Chunk(msg).Text()); r.Detected {
			a.transfer = r
			a.layout()
		}
		a.dirty = true
		if a.flushPending {
			return a, waitForEvent(a.ctx, a.events)
		}
		a.flushPending = true
		return a, tea.Batch(waitForEvent(a.ctx, a.events), flushCmd())

	case flushMsg:
		a.flushPending = false
		if a.dirty {
			a.refresh()
		}
		return a, nil

	case openFailedMsg:
		if errors.Is(msg.err, logstream.ErrNoToken) {
			a.loginRequired = true
			a.stop()
			return a, tea.Quit
		}
		a.state = logstream.StateClosed
		a.err = msg.err
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case spinner.TickMsg:
		if a.state != logstream.StateConnecting && a.state != logstream.StateIdle {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		a.follow = a.viewport.AtBottom()
		return a, cmd
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		a.stop()
		return a, tea.Quit

	case "f":
		a.follow = !a.follow
		if a.follow {
			a.viewport.GotoBottom()
		}
		return a, nil

	case "g", "home":
		a.follow = false
		a.viewport.GotoTop()
		return a, nil

	case "G", "end":
		a.follow = true
		a.viewport.GotoBottom()
		return a, nil

	case "esc":
		if a.transfer.Detected {
			a.transfer = transfer.None
			a.layout()
			a.refresh()
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	a.follow = a.viewport.AtBottom()
	return a, cmd
}

// refresh copies the session buffer into the viewport. Chunks only mark
// the view dirty; refresh runs at most once per frame.
func (a *App) refresh() {
	if !a.ready {
		return
	}
	a.dirty = false
	a.viewport.SetContent(a.session.Content())
	if a.follow {
		a.viewport.GotoBottom()
	}
}

func (a *App) layout() {
	if !a.ready {
		return
	}
	a.viewport.Width = a.width
	a.viewport.Height = a.viewportHeight()
}

func (a App) viewportHeight() int {
	h := a.height - 2 // header + status bar
	if a.transfer.Detected {
		h--
	}
	return max(h, 1)
}

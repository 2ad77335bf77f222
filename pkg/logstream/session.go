// Package logstream follows the live log output of a task execution.
package logstream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// State is the connection state of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNoToken is returned by Open when no auth token is available.
	// Callers should send the user to the login flow.
	ErrNoToken = errors.New("no auth token: login required")

	// ErrSessionUsed is returned by Open on a session that was already
	// opened or closed.
	ErrSessionUsed = errors.New("session already used")
)

// StateChange is delivered to state handlers on every transition. Err is
// set when the session closed because of a transport failure.
type StateChange struct {
	From State
	To   State
	Err  error
}

// ChunkHandler is called once per inbound frame, after its text was
// appended to the buffer.
type ChunkHandler func(Chunk)

// StateHandler is called on every state transition.
type StateHandler func(StateChange)

// Session is one subscription to one execution's log stream.
//
// Handlers run on the session's reader goroutine, except the Connecting
// transition (on the Open caller) and Close before Open (on the Close
// caller). Handlers may call Close.
type Session struct {
	baseURL string
	dialer  Dialer
	logger  *slog.Logger

	mu          sync.Mutex
	executionID string
	state       State
	err         error
	buf         strings.Builder
	conn        Conn
	closed      bool
	cancel      context.CancelFunc
	onChunk     []ChunkHandler
	onState     []StateHandler

	closeOnce sync.Once
	connOnce  sync.Once
	done      chan struct{}
}

// NewSession creates an idle session against the console at baseURL.
func NewSession(baseURL string, dialer Dialer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = &WebsocketDialer{}
	}
	return &Session{
		baseURL: baseURL,
		dialer:  dialer,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// OnChunk registers a chunk handler.
func (s *Session) OnChunk(h ChunkHandler) {
	s.mu.Lock()
	s.onChunk = append(s.onChunk, h)
	s.mu.Unlock()
}

// OnStateChange registers a state handler.
func (s *Session) OnStateChange(h StateHandler) {
	s.mu.Lock()
	s.onState = append(s.onState, h)
	s.mu.Unlock()
}

// Open starts streaming the logs of executionID. It returns once the
// session is Connecting; the dial happens in the background. An empty
// token fails with ErrNoToken before anything is dialed.
func (s *Session) Open(ctx context.Context, executionID, token string) error {
	if token == "" {
		return ErrNoToken
	}
	endpoint, err := Endpoint(s.baseURL, executionID, token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle || s.closed {
		s.mu.Unlock()
		return ErrSessionUsed
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.executionID = executionID
	handlers := s.setState(StateConnecting, nil)
	s.mu.Unlock()

	notify(handlers, StateChange{From: StateIdle, To: StateConnecting})
	go s.run(ctx, endpoint)
	return nil
}

// Close tears the session down. It is safe to call more than once and
// from any goroutine. Frames the transport yields afterwards are dropped.
func (s *Session) Close() error {
	var (
		err      error
		idle     bool
		handlers []StateHandler
	)
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn, cancel := s.conn, s.cancel
		if s.state == StateIdle {
			// Never opened: no reader goroutine will report the close.
			idle = true
			handlers = s.setState(StateClosed, nil)
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		err = s.closeConn(conn)
	})
	// Notified outside the Once so a handler calling Close does not block.
	if idle {
		notify(handlers, StateChange{From: StateIdle, To: StateClosed})
		close(s.done)
	}
	return err
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the transport error the session closed with, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Content returns everything received so far.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Len returns the buffer length in bytes.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// ExecutionID returns the execution the session was opened for.
func (s *Session) ExecutionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionID
}

// Done is closed once the session reached StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run(ctx context.Context, endpoint string) {
	defer close(s.done)

	s.logger.Debug("dialing log stream", "execution", s.executionID, "url", RedactToken(endpoint))
	conn, err := s.dialer.Dial(ctx, endpoint)
	if err != nil {
		s.finish(err)
		return
	}

	s.mu.Lock()
	s.conn = conn
	if s.closed {
		s.mu.Unlock()
		s.finish(nil)
		return
	}
	handlers := s.setState(StateConnected, nil)
	s.mu.Unlock()

	s.logger.Info("log stream connected", "execution", s.executionID)
	notify(handlers, StateChange{From: StateConnecting, To: StateConnected})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isCleanClose(err) {
				err = nil
			}
			s.finish(err)
			return
		}
		if !s.deliver(ParseChunk(data)) {
			s.finish(nil)
			return
		}
	}
}

// deliver appends a chunk and notifies handlers. It returns false once
// the session is closed, in which case the chunk is dropped.
func (s *Session) deliver(c Chunk) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.buf.WriteString(c.Text())
	handlers := s.onChunk
	s.mu.Unlock()

	for _, h := range handlers {
		h(c)
	}
	return true
}

// finish moves the session to Closed. An explicit Close wins over the
// transport error that it causes.
func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.closed {
		err = nil
	}
	s.closed = true
	from := s.state
	handlers := s.setState(StateClosed, err)
	conn, cancel := s.conn, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.closeConn(conn)

	if err != nil {
		s.logger.Warn("log stream closed", "execution", s.executionID, "err", err)
	} else {
		s.logger.Info("log stream closed", "execution", s.executionID)
	}
	notify(handlers, StateChange{From: from, To: StateClosed, Err: err})
}

// closeConn closes the transport at most once per session.
func (s *Session) closeConn(conn Conn) error {
	if conn == nil {
		return nil
	}
	var err error
	s.connOnce.Do(func() {
		err = conn.Close()
	})
	return err
}

// setState must be called with s.mu held. It returns the handlers to
// notify after unlocking.
func (s *Session) setState(to State, err error) []StateHandler {
	s.state = to
	s.err = err
	return s.onState
}

func notify(handlers []StateHandler, change StateChange) {
	for _, h := range handlers {
		h(change)
	}
}

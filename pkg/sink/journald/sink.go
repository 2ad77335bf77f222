// Package journald forwards streamed task-execution logs to the systemd
// journal.
package journald

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/opsconsole/pkg/core"
	"github.com/modoterra/opsconsole/pkg/logstream"
)

// ErrUnavailable is returned by New when no journal socket is reachable.
var ErrUnavailable = errors.New("systemd journal is not available")

// SendFunc matches journal.Send.
type SendFunc func(message string, priority journal.Priority, vars map[string]string) error

// maxPartial bounds the unterminated raw text held back between writes.
const maxPartial = 64 << 10

// Sink writes chunks of one execution's log stream to the journal. Raw
// frames may split a line; the unterminated tail is held until the rest
// arrives or Flush is called.
type Sink struct {
	identifier  string
	executionID string
	send        SendFunc
	logger      *slog.Logger

	mu      sync.Mutex
	partial string
	sent    int
	failed  int
}

// New returns a sink tagged with identifier and executionID. It fails with
// ErrUnavailable when journald is not running.
func New(identifier, executionID string, logger *slog.Logger) (*Sink, error) {
	if !journal.Enabled() {
		return nil, ErrUnavailable
	}
	return NewWithSender(identifier, executionID, journal.Send, logger), nil
}

// NewWithSender is New with an explicit send function.
func NewWithSender(identifier, executionID string, send SendFunc, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		identifier:  identifier,
		executionID: executionID,
		send:        send,
		logger:      logger,
	}
}

// Write sends one journal entry per complete non-empty line of the chunk.
// A structured chunk is one entry and first flushes any held raw text.
func (s *Sink) Write(c logstream.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Kind == logstream.ChunkStructured {
		errs := s.flushLocked()
		vars := s.vars(c.Kind)
		if c.Entry.Level != "" {
			vars["OPSCONSOLE_LEVEL"] = c.Entry.Level
		}
		if c.Entry.Timestamp != "" {
			vars["OPSCONSOLE_TIMESTAMP"] = c.Entry.Timestamp
		}
		errs = append(errs, s.sendLines(c.Text(), Priority(c.Entry.Level), vars)...)
		return joinSendErrors(errs)
	}

	text := s.partial + c.Text()
	cut := strings.LastIndexByte(text, '\n') + 1
	s.partial = text[cut:]
	errs := s.sendLines(text[:cut], journal.PriInfo, s.vars(c.Kind))
	if len(s.partial) > maxPartial {
		errs = append(errs, s.flushLocked()...)
	}
	return joinSendErrors(errs)
}

// Flush sends the held unterminated raw line, if any.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinSendErrors(s.flushLocked())
}

func (s *Sink) flushLocked() []error {
	text := s.partial
	s.partial = ""
	return s.sendLines(text, journal.PriInfo, s.vars(logstream.ChunkRaw))
}

func (s *Sink) vars(kind logstream.ChunkKind) map[string]string {
	return map[string]string{
		"SYSLOG_IDENTIFIER":  s.identifier,
		"OPSCONSOLE_EXEC_ID": s.executionID,
		"OPSCONSOLE_CHUNK":   kind.String(),
	}
}

// sendLines must be called with s.mu held.
func (s *Sink) sendLines(text string, priority journal.Priority, vars map[string]string) []error {
	var errs []error
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.send(line, priority, vars); err != nil {
			s.failed++
			errs = append(errs, err)
			continue
		}
		s.sent++
	}
	return errs
}

func joinSendErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("journal send: %w", errors.Join(errs...))
}

// Handler adapts the sink to a logstream chunk handler. Send failures are
// logged, not returned.
func (s *Sink) Handler() logstream.ChunkHandler {
	return func(c logstream.Chunk) {
		if err := s.Write(c); err != nil {
			s.logger.Warn("forward to journal", "execution", s.executionID, "err", err)
		}
	}
}

// Stats reports how many entries were sent and how many failed.
func (s *Sink) Stats() (sent, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.failed
}

// Priority maps a console log level to a journal priority. Unknown levels
// map to info.
func Priority(level string) journal.Priority {
	switch strings.ToLower(level) {
	case core.LevelDebug:
		return journal.PriDebug
	case core.LevelWarn, "warn":
		return journal.PriWarning
	case core.LevelError:
		return journal.PriErr
	case "critical", "fatal":
		return journal.PriCrit
	default:
		return journal.PriInfo
	}
}

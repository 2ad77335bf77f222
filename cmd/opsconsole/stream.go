package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/opsconsole/pkg/logstream"
	"github.com/modoterra/opsconsole/pkg/sink/journald"
	"github.com/modoterra/opsconsole/pkg/transfer"
	tuimodel "github.com/modoterra/opsconsole/pkg/tui/model"
)

func newSession(e *env, logger *slog.Logger) *logstream.Session {
	dialer := &logstream.WebsocketDialer{HandshakeTimeout: e.cfg.Timeout()}
	return logstream.NewSession(e.cfg.Server, dialer, logger)
}

// attachJournal forwards the session's chunks to journald. A journal that
// was only enabled in the config is skipped with a warning when missing,
// in which case the returned sink is nil.
func attachJournal(e *env, s *logstream.Session, executionID string, required bool) (*journald.Sink, error) {
	if !required && !e.cfg.Journal.Enabled {
		return nil, nil
	}
	sink, err := journald.New(e.cfg.Journal.Identifier, executionID, e.logger)
	if err != nil {
		if required {
			return nil, err
		}
		e.logger.Warn("journal forwarding disabled", "err", err)
		return nil, nil
	}
	s.OnChunk(sink.Handler())
	return sink, nil
}

// finishJournal sends any held line and reports what was forwarded.
func finishJournal(e *env, sink *journald.Sink, executionID string) {
	if sink == nil {
		return
	}
	if err := sink.Flush(); err != nil {
		e.logger.Warn("forward to journal", "execution", executionID, "err", err)
	}
	sent, failed := sink.Stats()
	e.logger.Info("journal forwarding finished", "execution", executionID, "sent", sent, "failed", failed)
}

// --- Logs (TUI) ---

var logsLogFile string

var logsCmd = &cobra.Command{
	Use:   "logs <execution-id>",
	Short: "Follow the logs of a task execution in a full-screen view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}

		// stderr belongs to the alt screen while the program runs.
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if logsLogFile != "" {
			f, err := os.OpenFile(logsLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer f.Close()
			logger = newLogger(f)
		}
		e.logger = logger

		session := newSession(e, logger)
		defer session.Close()
		sink, err := attachJournal(e, session, args[0], false)
		if err != nil {
			return err
		}
		defer finishJournal(e, sink, args[0])

		app := tuimodel.New(cmd.Context(), session, args[0], e.store.Token(), e.cfg.TransferWindow)
		final, err := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
		if err != nil {
			return err
		}
		if a, ok := final.(tuimodel.App); ok {
			if a.LoginRequired() {
				return errLoginHint
			}
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsLogFile, "log-file", "", "write diagnostics to this file")
}

// --- Tail ---

var tailJournal bool

var tailCmd = &cobra.Command{
	Use:   "tail <execution-id>",
	Short: "Stream the logs of a task execution to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		id := args[0]

		session := newSession(e, e.logger)
		defer session.Close()
		sink, err := attachJournal(e, session, id, tailJournal)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		window := transfer.NewWindow(e.cfg.TransferWindow)
		var writeErr error
		session.OnChunk(func(c logstream.Chunk) {
			if writeErr != nil {
				return
			}
			if _, err := io.WriteString(out, c.Text()); err != nil {
				writeErr = err
				e.logger.Error("write log output", "execution", id, "err", err)
				session.Close()
				return
			}
			if r := window.Feed(c.Text()); r.Detected {
				e.logger.Warn("file transfer handshake in log output",
					"execution", id, "protocol", r.Protocol, "direction", r.Direction)
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := session.Open(ctx, id, e.store.Token()); err != nil {
			if errors.Is(err, logstream.ErrNoToken) {
				return errLoginHint
			}
			return err
		}

		select {
		case <-session.Done():
		case <-ctx.Done():
			session.Close()
			<-session.Done()
		}
		finishJournal(e, sink, id)
		// The handler runs on the reader goroutine, which is done by now.
		if writeErr != nil {
			return fmt.Errorf("write log output: %w", writeErr)
		}
		if err := session.Err(); err != nil {
			return fmt.Errorf("log stream for execution %s: %w", session.ExecutionID(), err)
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().BoolVar(&tailJournal, "journal", false, "also forward log lines to the systemd journal")
}

// --- Detect ---

var detectJSON bool

// detection is one handshake found by the detect command.
type detection struct {
	Offset int64 `json:"offset"`
	transfer.Result
}

var detectCmd = &cobra.Command{
	Use:   "detect [file]",
	Short: "Scan terminal output for ZMODEM or trzsz transfer handshakes",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var r io.Reader = cmd.InOrStdin()
		if len(args) > 0 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		found, err := scanTransfers(r, transfer.NewWindow(cfg.TransferWindow))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if detectJSON {
			enc := json.NewEncoder(out)
			for _, d := range found {
				if err := enc.Encode(d); err != nil {
					return err
				}
			}
			return nil
		}
		if len(found) == 0 {
			fmt.Fprintln(out, "no transfer handshake detected")
			return nil
		}
		for _, d := range found {
			fmt.Fprintf(out, "%-10d %-8s %s\n", d.Offset, d.Protocol, d.Direction)
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "output one JSON object per detection")
}

// scanTransfers feeds r through w in fixed-size reads. Offsets are the
// byte position just past the read that completed the handshake.
func scanTransfers(r io.Reader, w *transfer.Window) ([]detection, error) {
	var (
		found  []detection
		offset int64
		buf    = make([]byte, 512)
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			offset += int64(n)
			if res := w.Feed(string(buf[:n])); res.Detected {
				found = append(found, detection{Offset: offset, Result: res})
			}
		}
		if errors.Is(err, io.EOF) {
			return found, nil
		}
		if err != nil {
			return found, err
		}
	}
}

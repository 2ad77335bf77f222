package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/opsconsole/pkg/logstream"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (logstream.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newTestApp(t *testing.T, dialer logstream.Dialer, token string) App {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := logstream.NewSession("http://ops.test", dialer, logger)
	a := New(context.Background(), session, "42", token, 0)
	t.Cleanup(a.stop)

	m, _ := a.Update(tea.WindowSizeMsg{Width: 100, Height: 10})
	return m.(App)
}

// open runs the command Init would run to open the session.
func open(a App) App {
	if msg := openCmd(a.ctx, a.session, a.executionID, a.token)(); msg != nil {
		m, _ := a.Update(msg)
		return m.(App)
	}
	return a
}

// feed delivers n session events to the model without rendering a frame.
func feed(t *testing.T, a App, n int) App {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case msg := <-a.events:
			m, _ := a.Update(msg)
			a = m.(App)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	return a
}

// pump feeds n session events into the model, then renders a frame.
func pump(t *testing.T, a App, n int) App {
	t.Helper()
	a = feed(t, a, n)
	m, _ := a.Update(flushMsg{})
	return m.(App)
}

func key(s string) tea.KeyMsg {
	if s == "esc" {
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(a App, s string) (App, tea.Cmd) {
	m, cmd := a.Update(key(s))
	return m.(App), cmd
}

func TestStatusIndicator(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")

	if !strings.Contains(a.View(), "○ disconnected") {
		t.Errorf("idle view should show disconnected:\n%s", a.View())
	}

	a = open(a)
	a = pump(t, a, 1)
	if !strings.Contains(a.View(), "◌ connecting") {
		t.Errorf("expected connecting indicator:\n%s", a.View())
	}

	a = pump(t, a, 1)
	if !strings.Contains(a.View(), "● connected") {
		t.Errorf("expected connected indicator:\n%s", a.View())
	}

	close(conn.frames)
	a = pump(t, a, 1)
	view := a.View()
	if !strings.Contains(view, "○ disconnected") || !strings.Contains(view, "stream ended") {
		t.Errorf("expected clean close:\n%s", view)
	}
	if a.Err() != nil {
		t.Errorf("clean close should have no error, got %v", a.Err())
	}
}

func TestClosedWithError(t *testing.T) {
	a := newTestApp(t, &fakeDialer{err: errors.New("dial refused")}, "tok")
	a = open(a)
	a = pump(t, a, 2) // connecting, closed

	if a.Err() == nil {
		t.Fatal("expected error")
	}
	view := a.View()
	if !strings.Contains(view, "✖ closed with error") || !strings.Contains(view, "dial refused") {
		t.Errorf("expected error indicator:\n%s", view)
	}
}

func TestNoTokenRequiresLogin(t *testing.T) {
	d := &fakeDialer{conn: newFakeConn()}
	a := newTestApp(t, d, "")

	m, cmd := a.Update(openCmd(a.ctx, a.session, a.executionID, a.token)())
	a = m.(App)
	if !a.LoginRequired() {
		t.Fatal("expected login required")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestAutoScroll(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")
	a = open(a)
	a = pump(t, a, 2)

	for i := 1; i <= 20; i++ {
		conn.frames <- []byte(fmt.Sprintf("line %02d\n", i))
	}
	a = pump(t, a, 20)

	if !a.viewport.AtBottom() {
		t.Error("follow mode should keep the viewport at the bottom")
	}
	if !strings.Contains(a.View(), "line 20") {
		t.Errorf("last line not visible:\n%s", a.View())
	}

	a, _ = press(a, "g")
	if a.follow || a.viewport.YOffset != 0 {
		t.Fatalf("g should jump to top and pause: follow=%v offset=%d", a.follow, a.viewport.YOffset)
	}
	if !strings.Contains(a.View(), "[PAUSED]") {
		t.Error("paused marker missing")
	}

	conn.frames <- []byte(`{"level":"info","content":"line 21\n","timestamp":"t"}`)
	a = pump(t, a, 1)
	if a.viewport.YOffset != 0 {
		t.Errorf("paused view should not scroll, offset=%d", a.viewport.YOffset)
	}

	a, _ = press(a, "G")
	if !a.follow || !a.viewport.AtBottom() {
		t.Error("G should resume following")
	}
	if !strings.Contains(a.View(), "line 21") {
		t.Errorf("structured content not rendered:\n%s", a.View())
	}

	a, _ = press(a, "f")
	if a.follow {
		t.Error("f should toggle follow off")
	}
}

func TestRefreshCoalescedPerFrame(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")
	a = open(a)
	a = pump(t, a, 2)
	before := a.viewport.TotalLineCount()

	for i := 1; i <= 50; i++ {
		conn.frames <- []byte(fmt.Sprintf("line %02d\n", i))
	}
	a = feed(t, a, 50)
	if !a.dirty || !a.flushPending {
		t.Fatalf("dirty=%v flushPending=%v, want both set", a.dirty, a.flushPending)
	}
	if got := a.viewport.TotalLineCount(); got != before {
		t.Errorf("viewport re-rendered before the frame: %d lines, want %d", got, before)
	}

	m, _ := a.Update(flushMsg{})
	a = m.(App)
	if a.dirty || a.flushPending {
		t.Errorf("dirty=%v flushPending=%v after flush", a.dirty, a.flushPending)
	}
	if got := a.viewport.TotalLineCount(); got != 51 {
		t.Errorf("lines after flush: got %d, want 51", got)
	}
	if !strings.Contains(a.View(), "line 50") {
		t.Errorf("last line not visible:\n%s", a.View())
	}
}

func TestClosedRendersPendingContent(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")
	a = open(a)
	a = pump(t, a, 2)

	conn.frames <- []byte("last words\n")
	close(conn.frames)
	a = feed(t, a, 2) // chunk, closed
	if !strings.Contains(a.View(), "last words") {
		t.Errorf("content before close not rendered:\n%s", a.View())
	}
}

func TestTransferBanner(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")
	a = open(a)
	a = pump(t, a, 2)

	conn.frames <- []byte("sz report.tar\r\n**")
	conn.frames <- []byte("\x18B00000000000000\r\n")
	a = pump(t, a, 2)

	if !strings.Contains(a.View(), "zmodem download requested") {
		t.Fatalf("expected transfer banner:\n%s", a.View())
	}
	if a.viewport.Height != 10-3 {
		t.Errorf("viewport height with banner: got %d", a.viewport.Height)
	}

	a, _ = press(a, "esc")
	if strings.Contains(a.View(), "requested") {
		t.Error("esc should dismiss the banner")
	}
	if a.viewport.Height != 10-2 {
		t.Errorf("viewport height without banner: got %d", a.viewport.Height)
	}
}

func TestQuitClosesSession(t *testing.T) {
	conn := newFakeConn()
	a := newTestApp(t, &fakeDialer{conn: conn}, "tok")
	a = open(a)
	a = pump(t, a, 2)

	a, cmd := press(a, "q")
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	select {
	case <-a.session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed on quit")
	}
	if a.session.State() != logstream.StateClosed || a.session.Err() != nil {
		t.Errorf("state=%s err=%v", a.session.State(), a.session.Err())
	}

	// A second quit must not panic.
	press(a, "q")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 2, "he"},
		{"hello", 0, "hello"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

package transfer

// DefaultWindowSize is the number of trailing bytes a Window keeps.
const DefaultWindowSize = 4096

// Window keeps the tail of recently received text so a handshake marker
// split across two chunks is still found. It is not safe for concurrent
// use.
type Window struct {
	buf  []byte
	size int
}

// NewWindow creates a window holding at most size bytes. A non-positive
// size selects DefaultWindowSize.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{buf: make([]byte, 0, size), size: size}
}

// Feed appends chunk and inspects the window. After a detection the
// window is cleared so the same handshake is reported once.
func (w *Window) Feed(chunk string) Result {
	if len(chunk) >= w.size {
		w.buf = append(w.buf[:0], chunk[len(chunk)-w.size:]...)
	} else {
		if over := len(w.buf) + len(chunk) - w.size; over > 0 {
			w.buf = append(w.buf[:0], w.buf[over:]...)
		}
		w.buf = append(w.buf, chunk...)
	}

	res := Detect(string(w.buf))
	if res.Detected {
		w.Reset()
	}
	return res
}

// Reset discards the buffered text.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
}

// Len returns the number of buffered bytes.
func (w *Window) Len() int { return len(w.buf) }

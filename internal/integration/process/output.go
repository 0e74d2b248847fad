package process

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// Stream identifies which child stream a line came from.
type Stream int

const (
	// StreamStdout is standard output.
	StreamStdout Stream = iota
	// StreamStderr is standard error.
	StreamStderr
)

// String returns the stream name.
func (s Stream) String() string {
	switch s {
	case StreamStdout:
		return "stdout"
	case StreamStderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Line is a single line of child output.
type Line struct {
	// Content is the line without its trailing newline.
	Content string

	// Stream identifies the source stream.
	Stream Stream

	// Timestamp is when the line was read.
	Timestamp time.Time

	// Number is the 1-based sequence number across both streams.
	Number int
}

// LineHandler receives output lines as they arrive. Lines from stdout and
// stderr are delivered from different goroutines but never concurrently.
type LineHandler func(Line)

// maxLineSize bounds a single delivered line. Longer lines arrive as
// consecutive pieces of at most this size.
const maxLineSize = 1024 * 1024

// ReadLines reads r to EOF and calls fn for each line. A final line
// without a newline is still delivered. Carriage returns before the
// newline are stripped.
func ReadLines(r io.Reader, stream Stream, fn LineHandler) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	emit := func() {
		if fn != nil {
			fn(Line{
				Content:   strings.TrimSuffix(string(line), "\r"),
				Stream:    stream,
				Timestamp: time.Now(),
			})
		}
		line = line[:0]
	}

	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		switch {
		case err == nil:
			line = line[:len(line)-1]
			emit()
		case errors.Is(err, bufio.ErrBufferFull):
			if len(line) >= maxLineSize {
				emit()
			}
		case errors.Is(err, io.EOF):
			if len(line) > 0 {
				emit()
			}
			return nil
		default:
			return err
		}
	}
}

// lineCounter numbers lines across streams and serializes delivery.
type lineCounter struct {
	mu sync.Mutex
	n  int
	fn LineHandler
}

func newLineCounter(fn LineHandler) *lineCounter {
	return &lineCounter{fn: fn}
}

func (c *lineCounter) emit(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	l.Number = c.n
	if c.fn != nil {
		c.fn(l)
	}
}

// WriterHandler returns a LineHandler that writes stdout lines to stdout
// and stderr lines to stderr, each followed by a newline. Nil writers
// drop their stream.
func WriterHandler(stdout, stderr io.Writer) LineHandler {
	return func(l Line) {
		w := stdout
		if l.Stream == StreamStderr {
			w = stderr
		}
		if w == nil {
			return
		}
		_, _ = io.WriteString(w, l.Content+"\n")
	}
}

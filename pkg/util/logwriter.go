package util

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

var writerColors = []color.Attribute{
	color.FgHiCyan,
	color.FgHiGreen,
	color.FgHiYellow,
	color.FgHiMagenta,
	color.FgHiBlue,
}

// ColoredLogWriter prefixes each written line with "kind|name" in a
// color picked from the name, so interleaved output from several
// commands stays readable.
type ColoredLogWriter struct {
	prefix string
	color  *color.Color
	out    io.Writer

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewColoredLogWriter creates a ColoredLogWriter writing to w.
func NewColoredLogWriter(kind, name string, w io.Writer) *ColoredLogWriter {
	sum := 0
	for _, c := range name {
		sum += int(c)
	}
	return &ColoredLogWriter{
		prefix: kind + "|" + name,
		color:  color.New(writerColors[sum%len(writerColors)]),
		out:    w,
	}
}

// Write buffers p and flushes complete lines with the prefix applied.
func (w *ColoredLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line buffered
			w.buf.WriteString(line)
			break
		}
		w.color.Fprintf(w.out, "%s: ", w.prefix)
		fmt.Fprint(w.out, line)
	}
	return len(p), nil
}

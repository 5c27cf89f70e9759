package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// PrettyJSONWriter re-indents each zerolog record before writing it, so
// every record becomes one human-readable JSON object.
//
// It is intentionally simple and geared toward CLI/daemon logs.
//
// Note: this writer is not optimized for throughput.
type PrettyJSONWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func NewPrettyJSONWriter(w io.Writer) *PrettyJSONWriter {
	return &PrettyJSONWriter{w: w}
}

// Write receives exactly one record per call from zerolog.
func (p *PrettyJSONWriter) Write(b []byte) (int, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimRight(b, "\n"), "", "  "); err != nil {
		// As a last resort, avoid dropping logs.
		out.Reset()
		out.Write(bytes.TrimRight(b, "\n"))
	}
	out.WriteByte('\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(b), nil
}

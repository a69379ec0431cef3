package agent

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// fileTail incrementally reads newly-appended, newline-terminated lines
// from a growing log file, used to pump a job's redirected stdout+stderr
// to the API without re-reading what was already shipped. No library in
// the example pack wraps this kind of log-file tailing, so it's built
// directly on os.File (DESIGN.md).
type fileTail struct {
	f      *os.File
	offset int64
	carry  string
}

func newFileTail(path string) (*fileTail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("agent: opening log file %s: %w", path, err)
	}
	return &fileTail{f: f}, nil
}

// readLines returns every complete line appended since the last call,
// buffering a trailing partial line (no newline yet) for next time.
func (t *fileTail) readLines() ([]string, error) {
	info, err := t.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("agent: statting log file: %w", err)
	}
	if info.Size() <= t.offset {
		return nil, nil
	}
	buf := make([]byte, info.Size()-t.offset)
	if _, err := t.f.ReadAt(buf, t.offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("agent: reading log file: %w", err)
	}
	t.offset = info.Size()

	data := t.carry + string(buf)
	parts := strings.Split(data, "\n")
	t.carry = parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	if len(lines) == 0 {
		return nil, nil
	}
	return lines, nil
}

// flush returns any buffered partial line as a final line, used once the
// job has exited and no more data will ever be appended.
func (t *fileTail) flush() []string {
	if t.carry == "" {
		return nil
	}
	line := t.carry
	t.carry = ""
	return []string{line}
}

func (t *fileTail) Close() error {
	return t.f.Close()
}

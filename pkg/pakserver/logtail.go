package pakserver

import (
	"bytes"
	"container/ring"
	"fmt"
	"net/http"
	"sync"
)

// io.Writer that remembers the last N complete lines written to it. the server's
// logger writes through one, so recent log lines can be looked at over HTTP
type logTail struct {
	lines   *ring.Ring
	partial []byte // written but not yet terminated by \n
	mu      sync.Mutex
}

func newLogTail(capacity int) *logTail {
	return &logTail{lines: ring.New(capacity)}
}

func (l *logTail) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.partial = append(l.partial, data...)

	for {
		idx := bytes.IndexByte(l.partial, '\n')
		if idx == -1 {
			break
		}

		l.lines.Value = string(l.partial[:idx])
		l.lines = l.lines.Next()

		l.partial = l.partial[idx+1:]
	}

	return len(data), nil
}

// oldest first
func (l *logTail) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := []string{}
	l.lines.Do(func(value any) {
		if line, ok := value.(string); ok {
			lines = append(lines, line)
		}
	})

	return lines
}

func (l *logTail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	for _, line := range l.Snapshot() {
		fmt.Fprintln(w, line)
	}
}

package pakserver

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestLogTail(t *testing.T) {
	tail := newLogTail(3)

	_, _ = tail.Write([]byte("line 1\nline 2\nline 3 left open"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2]")

	_, _ = tail.Write([]byte("\n")) // close line 3

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 1 line 2 line 3 left open]")

	_, _ = tail.Write([]byte("line 4\nline 5\n"))

	assert.EqualString(t, fmt.Sprintf("%v", tail.Snapshot()), "[line 3 left open line 4 line 5]")

	rec := httptest.NewRecorder()
	tail.ServeHTTP(rec, httptest.NewRequest("GET", "/log", nil))
	assert.EqualString(t, rec.Body.String(), "line 3 left open\nline 4\nline 5\n")
}

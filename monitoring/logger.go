package monitoring

import (
	"fmt"
	"log"
	"sync"
)

// Logf is the diagnostic logger used by library packages. Binaries keep the
// default (log.Printf); tests mute or capture it through SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. A nil logger mutes output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Recorder collects formatted log lines. Its Logf method can be handed to SetLogger.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Logf(format string, v ...interface{}) {
	r.mu.Lock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
	r.mu.Unlock()
}

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

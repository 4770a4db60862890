package logging

import (
	"context"
	"sync"

	glog "github.com/goliatone/go-logger/glog"
)

// Entry is a single captured log call.
type Entry struct {
	Level   string
	Message string
	Args    []any
}

// Recorder is a glog.Logger that keeps entries in memory. Tests use it to
// assert on warnings without parsing console output.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

var (
	_ glog.Logger       = (*Recorder)(nil)
	_ glog.FieldsLogger = (*Recorder)(nil)
)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Trace(msg string, args ...any) { r.add("trace", msg, args) }
func (r *Recorder) Debug(msg string, args ...any) { r.add("debug", msg, args) }
func (r *Recorder) Info(msg string, args ...any)  { r.add("info", msg, args) }
func (r *Recorder) Warn(msg string, args ...any)  { r.add("warn", msg, args) }
func (r *Recorder) Error(msg string, args ...any) { r.add("error", msg, args) }
func (r *Recorder) Fatal(msg string, args ...any) { r.add("fatal", msg, args) }

func (r *Recorder) WithContext(context.Context) glog.Logger { return r }

func (r *Recorder) WithFields(map[string]any) glog.Logger { return r }

// Entries returns a copy of every captured entry.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Messages returns the messages logged at the given level, in order.
func (r *Recorder) Messages(level string) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func (r *Recorder) add(level, msg string, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Message: msg, Args: append([]any(nil), args...)})
}

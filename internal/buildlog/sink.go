// Package buildlog is the logging collaborator for build output: every stage
// emits human-readable lines through a Sink, in emission order, one line per
// event. Sinks both display and durably persist the lines.
package buildlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/wheelforge/internal/events"
)

// Sink receives one build-output line per call, in emission order.
type Sink interface {
	Line(msg string)
}

// Linef formats and forwards a line to s.
func Linef(s Sink, format string, args ...any) {
	s.Line(fmt.Sprintf(format, args...))
}

// Sanitize strips control characters that would corrupt a line-oriented log.
// Tabs survive; everything else below 0x20 (and DEL) is dropped.
func Sanitize(msg string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, msg)
}

// FileSink appends timestamped lines to a log file, flushing per line so the
// log survives a crashed build.
type FileSink struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open build log: %w", err)
	}
	return &FileSink{f: f, now: time.Now}, nil
}

func (s *FileSink) Line(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(s.f, "[%s] %s\n", ts, Sanitize(msg))
	_ = s.f.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// HubSink publishes each line to the events hub for live subscribers.
type HubSink struct {
	Hub *events.Hub
}

func (s *HubSink) Line(msg string) {
	s.Hub.Publish(events.TypeLogLine, map[string]string{"line": Sanitize(msg)})
}

// WriterSink writes plain sanitized lines to w. Used for console output.
type WriterSink struct {
	mu sync.Mutex
	W  io.Writer
}

func (s *WriterSink) Line(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.W, Sanitize(msg))
}

// SlogSink mirrors build output into the structured log at INFO.
type SlogSink struct {
	Logger *slog.Logger
}

func (s *SlogSink) Line(msg string) {
	s.Logger.Info(Sanitize(msg))
}

type multiSink struct {
	sinks []Sink
}

// Multi fans each line out to every sink, in order.
func Multi(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Line(msg string) {
	for _, s := range m.sinks {
		s.Line(msg)
	}
}

// Discard drops all lines. Useful in tests.
type Discard struct{}

func (Discard) Line(string) {}

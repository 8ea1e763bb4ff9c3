package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"spectrocal/pkg/calibration"
)

// scriptedSource returns its values in order, repeating the last one.
type scriptedSource struct {
	mu     sync.Mutex
	values []float64
	reads  int
}

func (s *scriptedSource) ReadSingle(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0, fmt.Errorf("no values scripted")
	}
	i := s.reads
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	s.reads++
	return s.values[i], nil
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *captureLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

func newTestService(t *testing.T, src *scriptedSource, opts ...Option) *Service {
	t.Helper()
	base := []Option{WithSampling(1, 0)}
	if src != nil {
		base = append(base, WithSource(src))
	}
	return NewInMemoryService(NewDefaultRulesEngine(), append(base, opts...)...)
}

// acceptedService returns a service with the fixture loaded, evaluated and
// accepted for target.
func acceptedService(t *testing.T, fixture string, target Shape, opts ...Option) *Service {
	t.Helper()
	ctx := context.Background()
	svc := newTestService(t, nil, opts...)
	if _, err := svc.StartCalibration(ctx, target); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.LoadFixture(ctx, fixture); err != nil {
		t.Fatalf("load fixture: %v", err)
	}
	d, err := svc.Evaluate(ctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Outcome != calibration.OutcomeConfirm {
		t.Fatalf("expected confirm for %s, got %s", fixture, d.Outcome)
	}
	if _, err := svc.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	return svc
}

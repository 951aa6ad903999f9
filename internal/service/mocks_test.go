package service

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"
)

// MockLogger records messages; safe for use from worker goroutines.
type MockLogger struct {
	mu       sync.Mutex
	messages []string
}

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) add(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, s)
}

func (m *MockLogger) Info(msg string, args ...interface{})  { m.add("INFO: " + msg) }
func (m *MockLogger) Debug(msg string, args ...interface{}) { m.add("DEBUG: " + msg) }
func (m *MockLogger) Warn(msg string, args ...interface{})  { m.add("WARN: " + msg) }

func (m *MockLogger) Error(msg string, err error, args ...interface{}) {
	if err != nil {
		msg += " - " + err.Error()
	}
	m.add("ERROR: " + msg)
}

func (m *MockLogger) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.messages {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// fakeSource is an in-memory pageSource.
type fakeSource struct {
	texts   []string
	errs    map[int]error
	delays  map[int]time.Duration
	meta    map[string]string
	imgSize image.Point
	closed  bool
}

func (f *fakeSource) NumPage() int { return len(f.texts) }

func (f *fakeSource) Text(idx int) (string, error) {
	if d, ok := f.delays[idx]; ok {
		time.Sleep(d)
	}
	if err, ok := f.errs[idx]; ok {
		return "", err
	}
	return f.texts[idx], nil
}

func (f *fakeSource) ImageDPI(idx int, _ float64) (*image.RGBA, error) {
	if err, ok := f.errs[idx]; ok {
		return nil, err
	}
	size := f.imgSize
	if size.X == 0 {
		size = image.Pt(20, 30)
	}
	return image.NewRGBA(image.Rect(0, 0, size.X, size.Y)), nil
}

func (f *fakeSource) Metadata() map[string]string {
	if f.meta == nil {
		return map[string]string{}
	}
	return f.meta
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func processorFor(src *fakeSource, timeout time.Duration) *PDFProcessor {
	p := NewPDFProcessor(NewMockLogger(), timeout)
	p.open = func([]byte) (pageSource, error) { return src, nil }
	return p
}

func failingProcessor() *PDFProcessor {
	p := NewPDFProcessor(NewMockLogger(), time.Second)
	p.open = func([]byte) (pageSource, error) { return nil, errors.New("no objects found") }
	return p
}

// sleepRecorder replaces real sleeps in tests.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

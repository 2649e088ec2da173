package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type call struct {
	Op        string
	MessageID int
	Text      string
}

type mockPort struct {
	mu     sync.Mutex
	nextID int
	calls  []call

	sendErr  error
	editErr  map[int]error
	pinErr   map[int]error
	unpinErr map[int]error
}

func newMockPort() *mockPort {
	return &mockPort{
		nextID:   100,
		editErr:  map[int]error{},
		pinErr:   map[int]error{},
		unpinErr: map[int]error{},
	}
}

func (m *mockPort) Send(_ context.Context, _ int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		m.calls = append(m.calls, call{Op: "send", Text: text})
		return 0, m.sendErr
	}
	m.nextID++
	m.calls = append(m.calls, call{Op: "send", MessageID: m.nextID, Text: text})
	return m.nextID, nil
}

func (m *mockPort) Edit(_ context.Context, _ int64, messageID int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{Op: "edit", MessageID: messageID, Text: text})
	return m.editErr[messageID]
}

func (m *mockPort) Pin(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{Op: "pin", MessageID: messageID})
	return m.pinErr[messageID]
}

func (m *mockPort) Unpin(_ context.Context, _ int64, messageID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{Op: "unpin", MessageID: messageID})
	return m.unpinErr[messageID]
}

func (m *mockPort) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = fmt.Sprintf("%s:%d", c.Op, c.MessageID)
	}
	return out
}

func (m *mockPort) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

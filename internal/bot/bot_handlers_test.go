package bot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"timetable_bot/internal/config"
	"timetable_bot/internal/delivery"
	"timetable_bot/internal/fetcher"
	"timetable_bot/internal/model"
	"timetable_bot/internal/storage"
)

const defaultLink = "https://docs.google.com/spreadsheets/d/default"

// --- mocks ---

type sentMsg struct {
	ChatID   int64
	Text     string
	Keyboard bool
}

type mockAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []sentMsg
	edits    []tgbotapi.EditMessageTextConfig
	requests []tgbotapi.Chattable
	sendErr  error
	reqErr   error
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Keyboard: msg.ReplyMarkup != nil})
	case tgbotapi.EditMessageTextConfig:
		m.edits = append(m.edits, msg)
	}
	m.nextID++
	return tgbotapi.Message{MessageID: m.nextID}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	if m.reqErr != nil {
		return nil, m.reqErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) lastMessage() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.edits = nil
	m.requests = nil
}

type mockHTTPClient struct {
	body string
	err  error
}

func (m *mockHTTPClient) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

type mockSyncer struct {
	mu        sync.Mutex
	running   map[int64]bool
	starts    []time.Duration
	refreshes int
	resends   int
}

func (m *mockSyncer) Start(_ context.Context, chatID int64, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[chatID] = true
	m.starts = append(m.starts, interval)
}

func (m *mockSyncer) Stop(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.running[chatID]
	delete(m.running, chatID)
	return was
}

func (m *mockSyncer) Running(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[chatID]
}

func (m *mockSyncer) Refresh(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running[chatID] {
		return false
	}
	m.refreshes++
	return true
}

func (m *mockSyncer) Resend(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running[chatID] {
		return false
	}
	m.resends++
	return true
}

func (m *mockSyncer) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

// --- helpers ---

func newTestBot(t *testing.T, httpBody string) (*Bot, *mockAPI, *storage.SQLite, *mockSyncer) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	syncer := &mockSyncer{running: map[int64]bool{}}
	b := &Bot{
		api:     api,
		store:   store,
		cfg:     &config.Config{DefaultLink: defaultLink, KnownClasses: []string{"10А", "10Б"}, IntervalHours: 1},
		fetcher: fetcher.New(&mockHTTPClient{body: httpBody}, fetcher.FormatCSV, 0),
		syncer:  syncer,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, store, syncer
}

func seedConversation(t *testing.T, store *storage.SQLite, conv model.Conversation) {
	t.Helper()
	if err := store.SaveConversation(context.Background(), &conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
}

func getConversation(t *testing.T, store *storage.SQLite, chatID int64) *model.Conversation {
	t.Helper()
	conv, err := store.GetConversation(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	return conv
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/timetable.csv")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, store, _ := newTestBot(t, "")
	b.handleStart(context.Background(), 100)
	requireContains(t, api.lastText(), "Привет")

	conv := getConversation(t, store, 100)
	want := model.Conversation{ChatID: 100, DocumentLink: defaultLink, IntervalHours: 1}
	conv.CreatedAt = time.Time{}
	if diff := cmp.Diff(want, *conv); diff != "" {
		t.Errorf("created conversation mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleHelp(t *testing.T) {
	b, api, _, _ := newTestBot(t, "")
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/class")
	requireContains(t, api.lastText(), "/resend")
}

func TestHandleClass(t *testing.T) {
	ctx := context.Background()

	t.Run("usage", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.handleClass(ctx, 100, "")
		requireContains(t, api.lastText(), "Использование")
	})

	t.Run("known class with default link", func(t *testing.T) {
		b, api, store, _ := newTestBot(t, "")
		b.handleClass(ctx, 100, "10б")
		requireContains(t, api.lastText(), "Класс: 10Б")
		if diff := cmp.Diff("10Б", getConversation(t, store, 100).ClassName); diff != "" {
			t.Errorf("class mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown class with default link", func(t *testing.T) {
		b, api, store, _ := newTestBot(t, "")
		b.handleClass(ctx, 100, "99Я")
		requireContains(t, api.lastText(), "неправильно ввели название класса")
		if diff := cmp.Diff("", getConversation(t, store, 100).ClassName); diff != "" {
			t.Errorf("class should not be saved (-want +got):\n%s", diff)
		}
	})

	t.Run("custom link skips known classes", func(t *testing.T) {
		b, api, store, _ := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, DocumentLink: "https://example.com/other", IntervalHours: 1})
		b.handleClass(ctx, 100, "99Я")
		requireContains(t, api.lastText(), "Класс: 99Я")
	})

	t.Run("running task is restarted", func(t *testing.T) {
		b, _, store, syncer := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10А", DocumentLink: defaultLink, IntervalHours: 1, IsActive: true})
		syncer.running[100] = true
		b.handleClass(ctx, 100, "10Б")
		if diff := cmp.Diff(1, syncer.startCount()); diff != "" {
			t.Errorf("restart count mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestHandleClasses(t *testing.T) {
	ctx := context.Background()

	t.Run("lists header classes", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, loadFixture(t))
		b.handleClasses(ctx, 100)
		requireContains(t, api.lastText(), "10А, 10Б")
	})

	t.Run("fetch failure", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.fetcher = fetcher.New(&mockHTTPClient{err: io.ErrUnexpectedEOF}, fetcher.FormatCSV, 0)
		b.handleClasses(ctx, 100)
		requireContains(t, api.lastText(), "Не удалось загрузить таблицу")
	})

	t.Run("no link", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.cfg.DefaultLink = ""
		b.handleClasses(ctx, 100)
		requireContains(t, api.lastText(), "/link")
	})
}

func TestHandleLink(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		args     string
		contains string
		wantLink string
	}{
		{name: "usage", args: "", contains: "Использование", wantLink: defaultLink},
		{name: "invalid", args: "ftp://example.com", contains: "Неверная ссылка", wantLink: defaultLink},
		{
			name:     "google sheet is normalised",
			args:     "https://docs.google.com/spreadsheets/d/xyz/edit#gid=0",
			contains: "Таблица: https://docs.google.com/spreadsheets/d/xyz",
			wantLink: "https://docs.google.com/spreadsheets/d/xyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store, _ := newTestBot(t, "")
			b.handleStart(ctx, 100)
			b.handleLink(ctx, 100, tt.args)
			requireContains(t, api.lastText(), tt.contains)
			if diff := cmp.Diff(tt.wantLink, getConversation(t, store, 100).DocumentLink); diff != "" {
				t.Errorf("link mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleInterval(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		args        string
		contains    string
		wantHours   int
		wantMinutes int
	}{
		{name: "usage", args: "", contains: "Использование", wantHours: 1},
		{name: "zero", args: "0 0", contains: "Использование", wantHours: 1},
		{name: "bad minutes", args: "1 75", contains: "Использование", wantHours: 1},
		{name: "half hour", args: "0 30", contains: "30 мин", wantMinutes: 30},
		{name: "comma separated", args: "2,15", contains: "2 ч 15 мин", wantHours: 2, wantMinutes: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store, _ := newTestBot(t, "")
			b.handleStart(ctx, 100)
			b.handleInterval(ctx, 100, tt.args)
			requireContains(t, api.lastText(), tt.contains)
			conv := getConversation(t, store, 100)
			if diff := cmp.Diff([2]int{tt.wantHours, tt.wantMinutes}, [2]int{conv.IntervalHours, conv.IntervalMinutes}); diff != "" {
				t.Errorf("interval mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleRun(t *testing.T) {
	ctx := context.Background()

	t.Run("requires class", func(t *testing.T) {
		b, api, _, syncer := newTestBot(t, "")
		b.handleRun(ctx, 100)
		requireContains(t, api.lastText(), "/class")
		if diff := cmp.Diff(0, syncer.startCount()); diff != "" {
			t.Errorf("unexpected start (-want +got):\n%s", diff)
		}
	})

	t.Run("requires link", func(t *testing.T) {
		b, api, store, _ := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10Б", IntervalHours: 1})
		b.handleRun(ctx, 100)
		requireContains(t, api.lastText(), "/link")
	})

	t.Run("starts task", func(t *testing.T) {
		b, api, store, syncer := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10Б", DocumentLink: defaultLink, IntervalMinutes: 45})
		b.handleRun(ctx, 100)
		requireContains(t, api.lastText(), "Обновление запущено")
		if !getConversation(t, store, 100).IsActive {
			t.Error("conversation should be active")
		}
		if diff := cmp.Diff([]time.Duration{45 * time.Minute}, syncer.starts); diff != "" {
			t.Errorf("starts mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestHandleRefreshAndResend(t *testing.T) {
	b, api, _, syncer := newTestBot(t, "")

	b.handleRefresh(100)
	requireContains(t, api.lastText(), "/run")
	b.handleResend(100)
	requireContains(t, api.lastText(), "/run")

	syncer.running[100] = true
	b.handleRefresh(100)
	requireContains(t, api.lastText(), "Обновляю")
	b.handleResend(100)
	requireContains(t, api.lastText(), "заново")

	if diff := cmp.Diff([2]int{1, 1}, [2]int{syncer.refreshes, syncer.resends}); diff != "" {
		t.Errorf("trigger counts mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.handleStatus(ctx, 100)
		requireContains(t, api.lastText(), "/start")
	})

	t.Run("configured", func(t *testing.T) {
		b, api, store, syncer := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10Б", DocumentLink: defaultLink, IntervalHours: 1, IsActive: true})
		syncer.running[100] = true
		b.handleStatus(ctx, 100)
		msg := api.lastMessage()
		requireContains(t, msg.Text, "Класс: 10Б")
		requireContains(t, msg.Text, "запущено")
		if !msg.Keyboard {
			t.Error("status should carry an inline keyboard")
		}
	})
}

func TestHandleStop(t *testing.T) {
	ctx := context.Background()

	t.Run("running", func(t *testing.T) {
		b, api, store, syncer := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10Б", DocumentLink: defaultLink, IntervalHours: 1, IsActive: true})
		syncer.running[100] = true
		b.handleStop(ctx, 100)
		requireContains(t, api.lastText(), "Обновление остановлено")
		if getConversation(t, store, 100).IsActive {
			t.Error("conversation should be inactive")
		}
		if syncer.Running(100) {
			t.Error("task should be stopped")
		}
	})

	t.Run("already stopped", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.handleStop(ctx, 100)
		requireContains(t, api.lastText(), "уже остановлено")
	})
}

func TestHandleForget(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to forget", func(t *testing.T) {
		b, api, _, _ := newTestBot(t, "")
		b.handleForgetConfirm(ctx, 100)
		requireContains(t, api.lastText(), "нет сохранённых настроек")
	})

	t.Run("confirmation then delete", func(t *testing.T) {
		b, api, store, syncer := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100, ClassName: "10Б", IsActive: true})
		syncer.running[100] = true

		b.handleForgetConfirm(ctx, 100)
		if !api.lastMessage().Keyboard {
			t.Fatal("confirmation should carry an inline keyboard")
		}

		b.handleCallback(ctx, &tgbotapi.CallbackQuery{
			ID:      "cb1",
			Data:    "forget:100",
			From:    &tgbotapi.User{ID: 1},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		})
		requireContains(t, api.lastText(), "удалены")
		if _, err := store.GetConversation(ctx, 100); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected conversation to be deleted, got %v", err)
		}
		if syncer.Running(100) {
			t.Error("task should be stopped")
		}
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	makeMsg := func(cmd, args string) *tgbotapi.Message {
		text := "/" + cmd
		if args != "" {
			text += " " + args
		}
		return &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 100},
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
			},
		}
	}

	b, api, _, _ := newTestBot(t, "")

	cmds := []struct {
		cmd      string
		args     string
		contains string
	}{
		{"start", "", "Привет"},
		{"help", "", "/class"},
		{"class", "10А", "Класс: 10А"},
		{"interval", "0 20", "20 мин"},
		{"run", "", "Обновление запущено"},
		{"refresh", "", "Обновляю"},
		{"resend", "", "заново"},
		{"status", "", "Класс: 10А"},
		{"stop", "", "Обновление остановлено"},
		{"forget", "", "Удалить все настройки"},
		{"unknown_cmd", "", "Неизвестная команда"},
	}

	for _, tc := range cmds {
		api.reset()
		b.handleCommand(ctx, makeMsg(tc.cmd, tc.args))
		requireContains(t, api.lastText(), tc.contains)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	cb := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    data,
			From:    &tgbotapi.User{ID: 1},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data is acknowledged only", func(t *testing.T) {
		for _, data := range []string{"nocolon", "run:abc", "noop:0"} {
			b, api, _, _ := newTestBot(t, "")
			b.handleCallback(ctx, cb(data))
			if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
				t.Errorf("%s: expected no text messages (-want +got):\n%s", data, diff)
			}
			if diff := cmp.Diff(1, len(api.requests)); diff != "" {
				t.Errorf("%s: expected one callback ack (-want +got):\n%s", data, diff)
			}
		}
	})

	t.Run("forget for another chat is ignored", func(t *testing.T) {
		b, _, store, _ := newTestBot(t, "")
		seedConversation(t, store, model.Conversation{ChatID: 100})
		b.handleCallback(ctx, cb("forget:999"))
		getConversation(t, store, 100)
	})

	t.Run("refresh button", func(t *testing.T) {
		b, api, _, syncer := newTestBot(t, "")
		syncer.running[100] = true
		b.handleCallback(ctx, cb("refresh:100"))
		requireContains(t, api.lastText(), "Обновляю")
	})
}

// --- message port ---

func TestMessagePort(t *testing.T) {
	ctx := context.Background()
	b, api, _, _ := newTestBot(t, "")
	var port delivery.MessagePort = b

	id, err := port.Send(ctx, 100, "Понедельник")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if diff := cmp.Diff(1, id); diff != "" {
		t.Errorf("message id mismatch (-want +got):\n%s", diff)
	}

	if err := port.Edit(ctx, 100, id, "Вторник"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if diff := cmp.Diff(1, len(api.edits)); diff != "" {
		t.Fatalf("edit count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([2]any{1, "Вторник"}, [2]any{api.edits[0].MessageID, api.edits[0].Text}); diff != "" {
		t.Errorf("edit mismatch (-want +got):\n%s", diff)
	}

	if err := port.Pin(ctx, 100, id); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := port.Unpin(ctx, 100, id); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	want := []tgbotapi.Chattable{
		tgbotapi.PinChatMessageConfig{ChatID: 100, MessageID: 1, DisableNotification: true},
		tgbotapi.UnpinChatMessageConfig{ChatID: 100, MessageID: 1},
	}
	if diff := cmp.Diff(want, api.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}

	api.reqErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: not enough rights to manage pinned messages in the chat"}
	if err := port.Pin(ctx, 100, id); !errors.Is(err, delivery.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}

	api.sendErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}
	if err := port.Edit(ctx, 100, id, "Вторник"); !errors.Is(err, delivery.ErrNotModified) {
		t.Errorf("expected ErrNotModified, got %v", err)
	}
}

func TestSettingsCommandsKeepDeliveredProjection(t *testing.T) {
	ctx := context.Background()
	b, _, store, _ := newTestBot(t, "")

	id := 101
	proj := &model.Projection{Days: []model.DaySlot{
		{Weekday: model.Day(time.Monday), Lessons: []model.LessonSlot{{Subject: "Math"}}, Message: model.MessageIdentity{ID: &id, Pinned: true}},
	}}
	seedConversation(t, store, model.Conversation{
		ChatID: 100, ClassName: "10Б", DocumentLink: defaultLink, IntervalHours: 1, LastProjection: proj,
	})

	b.handleInterval(ctx, 100, "0 30")
	b.handleClass(ctx, 100, "10А")
	b.handleLink(ctx, 100, "https://docs.google.com/spreadsheets/d/other")

	got := getConversation(t, store, 100)
	if diff := cmp.Diff(proj, got.LastProjection); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([3]any{"10А", "https://docs.google.com/spreadsheets/d/other", 30 * time.Minute},
		[3]any{got.ClassName, got.DocumentLink, got.Interval()}); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
}

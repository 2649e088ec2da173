// Package status serves a read-only HTTP view of the bot's conversations.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"timetable_bot/internal/model"
	"timetable_bot/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ConversationReader is the part of the store the status API needs.
type ConversationReader interface {
	GetConversation(ctx context.Context, chatID int64) (*model.Conversation, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
}

// TaskReporter reports whether a chat's synchronisation task is running.
type TaskReporter interface {
	Running(chatID int64) bool
}

// Server is the status HTTP server.
type Server struct {
	store ConversationReader
	tasks TaskReporter
	log   *slog.Logger
	http  *http.Server
}

// New builds a server listening on addr.
func New(addr string, store ConversationReader, tasks TaskReporter, log *slog.Logger) *Server {
	s := &Server{store: store, tasks: tasks, log: log}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests())

	router.GET("/healthz", s.health)
	api := router.Group("/api")
	{
		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:chatID", s.getConversation)
	}

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server started", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve status: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	s.log.Info("status server stopped")
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// conversationView is the JSON shape of a conversation.
type conversationView struct {
	ChatID          int64             `json:"chat_id"`
	ClassName       string            `json:"class_name"`
	DocumentLink    string            `json:"document_link"`
	IntervalHours   int               `json:"interval_hours"`
	IntervalMinutes int               `json:"interval_minutes"`
	IsActive        bool              `json:"is_active"`
	Running         bool              `json:"running"`
	LastRunAt       *time.Time        `json:"last_run_at,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	Projection      *model.Projection `json:"projection,omitempty"`
}

func (s *Server) view(c *model.Conversation) conversationView {
	return conversationView{
		ChatID:          c.ChatID,
		ClassName:       c.ClassName,
		DocumentLink:    c.DocumentLink,
		IntervalHours:   c.IntervalHours,
		IntervalMinutes: c.IntervalMinutes,
		IsActive:        c.IsActive,
		Running:         s.tasks.Running(c.ChatID),
		LastRunAt:       c.LastRunAt,
		LastError:       c.LastError,
		CreatedAt:       c.CreatedAt,
		Projection:      c.LastProjection,
	}
}

func (s *Server) listConversations(c *gin.Context) {
	convs, err := s.store.ListConversations(c.Request.Context())
	if err != nil {
		s.log.Error("list conversations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	out := make([]conversationView, 0, len(convs))
	for i := range convs {
		out = append(out, s.view(&convs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) getConversation(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chatID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	conv, err := s.store.GetConversation(c.Request.Context(), chatID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if err != nil {
		s.log.Error("get conversation", "chat_id", chatID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, s.view(conv))
}

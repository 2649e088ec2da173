// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"timetable_bot/internal/model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Storage is the interface for all persistence operations.
//
// SaveConversation writes the whole record. SaveSettings and SaveRunResult
// write disjoint halves of it, so the bot and a running cycle never overwrite
// each other. List methods return conversations without their projections.
type Storage interface {
	SaveConversation(ctx context.Context, c *model.Conversation) error
	SaveSettings(ctx context.Context, c *model.Conversation) error
	SaveRunResult(ctx context.Context, c *model.Conversation) error
	GetConversation(ctx context.Context, chatID int64) (*model.Conversation, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListActiveConversations(ctx context.Context) ([]model.Conversation, error)
	DeleteConversation(ctx context.Context, chatID int64) error

	Close() error
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"timetable_bot/internal/model"
	"timetable_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const conversationColumns = `chat_id, class_name, document_link, interval_hours, interval_minutes,
	is_active, last_run_at, last_error, has_projection, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Conversations are written from one goroutine each; a single connection
	// serialises them and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveConversation inserts or updates a conversation and replaces its stored
// projection. CreatedAt is populated on first insert.
func (s *SQLite) SaveConversation(ctx context.Context, c *model.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	var lastRun *string
	if c.LastRunAt != nil {
		v := c.LastRunAt.UTC().Format(timeLayout)
		lastRun = &v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   class_name = excluded.class_name,
		   document_link = excluded.document_link,
		   interval_hours = excluded.interval_hours,
		   interval_minutes = excluded.interval_minutes,
		   is_active = excluded.is_active,
		   last_run_at = excluded.last_run_at,
		   last_error = excluded.last_error,
		   has_projection = excluded.has_projection`,
		c.ChatID, c.ClassName, c.DocumentLink, c.IntervalHours, c.IntervalMinutes,
		boolToInt(c.IsActive), lastRun, c.LastError, boolToInt(c.LastProjection != nil),
		c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if err := replaceProjection(ctx, tx, c.ChatID, c.LastProjection); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveSettings inserts a conversation or updates its user settings. The run
// result and the stored projection are left untouched.
func (s *SQLite) SaveSettings(ctx context.Context, c *model.Conversation) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, '', 0, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   class_name = excluded.class_name,
		   document_link = excluded.document_link,
		   interval_hours = excluded.interval_hours,
		   interval_minutes = excluded.interval_minutes,
		   is_active = excluded.is_active`,
		c.ChatID, c.ClassName, c.DocumentLink, c.IntervalHours, c.IntervalMinutes,
		boolToInt(c.IsActive), c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// SaveRunResult stores the outcome of a reconciliation cycle: LastRunAt,
// LastError and the projection. IsActive can only be cleared here. It returns
// ErrNotFound if the conversation was deleted meanwhile.
func (s *SQLite) SaveRunResult(ctx context.Context, c *model.Conversation) error {
	var lastRun *string
	if c.LastRunAt != nil {
		v := c.LastRunAt.UTC().Format(timeLayout)
		lastRun = &v
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET
		   last_run_at = ?,
		   last_error = ?,
		   has_projection = ?,
		   is_active = is_active AND ?
		 WHERE chat_id = ?`,
		lastRun, c.LastError, boolToInt(c.LastProjection != nil), boolToInt(c.IsActive), c.ChatID,
	)
	if err != nil {
		return fmt.Errorf("update run result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, c.ChatID)
	}

	if err := replaceProjection(ctx, tx, c.ChatID, c.LastProjection); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func replaceProjection(ctx context.Context, tx *sql.Tx, chatID int64, p *model.Projection) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM lesson_slots WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete lesson_slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM day_slots WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete day_slots: %w", err)
	}
	if p == nil {
		return nil
	}

	for i, d := range p.Days {
		var weekday *int
		if d.Weekday != nil {
			v := int(*d.Weekday)
			weekday = &v
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO day_slots (chat_id, position, weekday, message_id, pinned) VALUES (?, ?, ?, ?, ?)`,
			chatID, i, weekday, d.Message.ID, boolToInt(d.Message.Pinned),
		)
		if err != nil {
			return fmt.Errorf("insert day_slot %d: %w", i, err)
		}
		for j, l := range d.Lessons {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO lesson_slots (chat_id, day_position, position, subject, teacher, room)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				chatID, i, j, l.Subject, l.Teacher, l.Room,
			)
			if err != nil {
				return fmt.Errorf("insert lesson_slot %d/%d: %w", i, j, err)
			}
		}
	}
	return nil
}

// GetConversation returns a conversation with its last projection.
func (s *SQLite) GetConversation(ctx context.Context, chatID int64) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE chat_id = ?`, chatID,
	)
	c, hasProjection, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, chatID)
	}
	if err != nil {
		return nil, err
	}
	if hasProjection {
		p, err := s.loadProjection(ctx, chatID)
		if err != nil {
			return nil, err
		}
		c.LastProjection = p
	}
	return c, nil
}

func (s *SQLite) loadProjection(ctx context.Context, chatID int64) (*model.Projection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT weekday, message_id, pinned FROM day_slots WHERE chat_id = ? ORDER BY position`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query day_slots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	p := &model.Projection{}
	for rows.Next() {
		var (
			weekday, messageID sql.NullInt64
			pinned             int
		)
		if err := rows.Scan(&weekday, &messageID, &pinned); err != nil {
			return nil, fmt.Errorf("scan day_slot: %w", err)
		}
		var d model.DaySlot
		if weekday.Valid {
			d.Weekday = model.Day(time.Weekday(weekday.Int64))
		}
		if messageID.Valid {
			d.Message = model.Sent(int(messageID.Int64))
		}
		d.Message.Pinned = pinned == 1
		p.Days = append(p.Days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day_slots: %w", err)
	}
	_ = rows.Close()

	lessons, err := s.db.QueryContext(ctx,
		`SELECT day_position, subject, teacher, room FROM lesson_slots
		 WHERE chat_id = ? ORDER BY day_position, position`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query lesson_slots: %w", err)
	}
	defer func() { _ = lessons.Close() }()

	for lessons.Next() {
		var (
			day int
			l   model.LessonSlot
		)
		if err := lessons.Scan(&day, &l.Subject, &l.Teacher, &l.Room); err != nil {
			return nil, fmt.Errorf("scan lesson_slot: %w", err)
		}
		if day < 0 || day >= len(p.Days) {
			return nil, fmt.Errorf("lesson_slot references missing day %d", day)
		}
		p.Days[day].Lessons = append(p.Days[day].Lessons, l)
	}
	return p, lessons.Err()
}

// ListConversations returns every stored conversation ordered by chat id.
func (s *SQLite) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.list(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY chat_id`)
}

// ListActiveConversations returns conversations whose sync is running.
func (s *SQLite) ListActiveConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.list(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE is_active = 1 ORDER BY chat_id`)
}

func (s *SQLite) list(ctx context.Context, query string) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		c, _, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its stored projection.
func (s *SQLite) DeleteConversation(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceProjection(ctx, tx, chatID, nil); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConversation(row scannable) (*model.Conversation, bool, error) {
	var (
		c                       model.Conversation
		isActive, hasProjection int
		lastRun                 sql.NullString
		created                 string
	)
	err := row.Scan(&c.ChatID, &c.ClassName, &c.DocumentLink, &c.IntervalHours, &c.IntervalMinutes,
		&isActive, &lastRun, &c.LastError, &hasProjection, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("scan conversation: %w", err)
	}
	c.IsActive = isActive == 1
	if lastRun.Valid {
		t, _ := time.Parse(timeLayout, lastRun.String)
		c.LastRunAt = &t
	}
	c.CreatedAt, _ = time.Parse(timeLayout, created)
	return &c, hasProjection == 1, nil
}

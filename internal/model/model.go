// Package model defines the domain types used across the application.
package model

import (
	"slices"
	"time"
)

// LessonSlot is one class period. The zero value is the "no lesson" sentinel.
type LessonSlot struct {
	Subject string `json:"subject"`
	Teacher string `json:"teacher"`
	Room    string `json:"room"`
}

// IsEmpty reports whether l is the free-period sentinel.
func (l LessonSlot) IsEmpty() bool {
	return l == LessonSlot{}
}

// MessageIdentity tracks the outbound message that displays a DaySlot.
// A nil ID means the message was never sent.
type MessageIdentity struct {
	ID     *int `json:"id,omitempty"`
	Pinned bool `json:"pinned"`
}

// Sent returns the identity of a freshly sent, unpinned message.
func Sent(id int) MessageIdentity {
	return MessageIdentity{ID: &id}
}

// Delivered reports whether the message has a platform id.
func (m MessageIdentity) Delivered() bool {
	return m.ID != nil
}

// DaySlot holds one weekday's lessons and the message showing them.
// Weekday is nil only while a day is being accumulated before its marker is known.
type DaySlot struct {
	Weekday *time.Weekday   `json:"weekday,omitempty"`
	Lessons []LessonSlot    `json:"lessons"`
	Message MessageIdentity `json:"message"`
}

// Day returns a pointer suitable for DaySlot.Weekday.
func Day(d time.Weekday) *time.Weekday {
	return &d
}

// IsDay reports whether the slot is for weekday d.
func (s DaySlot) IsDay(d time.Weekday) bool {
	return s.Weekday != nil && *s.Weekday == d
}

// SameContent reports whether two slots show the same weekday and the same
// ordered lessons. Message identities are ignored.
func (s DaySlot) SameContent(o DaySlot) bool {
	switch {
	case s.Weekday == nil && o.Weekday == nil:
	case s.Weekday == nil || o.Weekday == nil:
		return false
	case *s.Weekday != *o.Weekday:
		return false
	}
	return slices.Equal(s.Lessons, o.Lessons)
}

// Projection is the ordered, day-partitioned schedule of one class.
type Projection struct {
	Days []DaySlot `json:"days"`
}

// Equal reports structural equality of the ordered day sequence, ignoring
// message identities.
func (p Projection) Equal(o Projection) bool {
	return slices.EqualFunc(p.Days, o.Days, DaySlot.SameContent)
}

// AllDelivered reports whether the projection is non-empty and every day has
// a sent message.
func (p Projection) AllDelivered() bool {
	if len(p.Days) == 0 {
		return false
	}
	for _, d := range p.Days {
		if !d.Message.Delivered() {
			return false
		}
	}
	return true
}

// Conversation is the persisted state of one subscribed chat.
type Conversation struct {
	ChatID          int64
	ClassName       string
	DocumentLink    string
	IntervalHours   int
	IntervalMinutes int
	IsActive        bool
	LastRunAt       *time.Time
	LastError       string
	LastProjection  *Projection
	CreatedAt       time.Time
}

// Interval returns the poll interval.
func (c *Conversation) Interval() time.Duration {
	return time.Duration(c.IntervalHours)*time.Hour + time.Duration(c.IntervalMinutes)*time.Minute
}

package relay

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrQueueFull      = errors.New("queue full")
	ErrNotImplemented = errors.New("not implemented")
	ErrClosed         = errors.New("relay closed")
)

type UpdateKind string

const (
	KindCommand     UpdateKind = "command"
	KindCallback    UpdateKind = "callback"
	KindDriveChange UpdateKind = "drive_change"
	KindScheduled   UpdateKind = "scheduled"
)

// Update is one inbound event: a chat message, a button press, a drive change
// notification or a scheduler tick.
type Update struct {
	ID         string     `json:"id"`
	Kind       UpdateKind `json:"kind"`
	ChatID     string     `json:"chatId,omitempty"`
	Text       string     `json:"text,omitempty"`
	CallbackID string     `json:"callbackId,omitempty"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

func (u Update) validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return ErrInvalidInput
	}
	switch u.Kind {
	case KindCommand, KindCallback:
		if strings.TrimSpace(u.ChatID) == "" {
			return ErrInvalidInput
		}
	case KindDriveChange, KindScheduled:
	default:
		return ErrInvalidInput
	}
	return nil
}

// UpdateQueue buffers updates between the HTTP surface and the workers.
type UpdateQueue interface {
	TryEnqueue(u Update) bool
	Dequeue(ctx context.Context) (Update, bool)
	Depth() int
	Capacity() int
	Close() error
}

type inMemoryUpdateQueue struct {
	ch chan Update
}

func NewInMemoryUpdateQueue(capacity int) UpdateQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &inMemoryUpdateQueue{
		ch: make(chan Update, capacity),
	}
}

func (q *inMemoryUpdateQueue) TryEnqueue(u Update) bool {
	if q == nil || u.ID == "" {
		return false
	}
	select {
	case q.ch <- u:
		return true
	default:
		return false
	}
}

func (q *inMemoryUpdateQueue) Dequeue(ctx context.Context) (Update, bool) {
	if q == nil {
		return Update{}, false
	}
	select {
	case u := <-q.ch:
		return u, true
	case <-ctx.Done():
		return Update{}, false
	}
}

func (q *inMemoryUpdateQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryUpdateQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryUpdateQueue) Close() error {
	return nil
}

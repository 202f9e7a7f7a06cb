package guestdesk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type NotificationKind string

const (
	KindStatusReceived NotificationKind = "status_received"
	KindStatusDone     NotificationKind = "status_done"
	KindStatusDeclined NotificationKind = "status_declined"
	KindStatusChanged  NotificationKind = "status_changed"
	KindAdminReply     NotificationKind = "admin_reply"
)

// KindForStatus maps a request status to the notification kind emitted when
// an appeal transitions into it.
func KindForStatus(status Status) NotificationKind {
	switch status {
	case StatusReceived:
		return KindStatusReceived
	case StatusDone:
		return KindStatusDone
	case StatusDeclined:
		return KindStatusDeclined
	default:
		return KindStatusChanged
	}
}

// Notification is one durable outbound message awaiting delivery to a
// guest's chat session. Text is fully rendered at enqueue time; AppealID
// and Kind exist only so delivery can attach contextual action buttons.
type Notification struct {
	ID        int64            `db:"id"`
	GuestID   int64            `db:"user_id"`
	Text      string           `db:"message"`
	AppealID  int64            `db:"appeal_id"`
	Kind      NotificationKind `db:"kind"`
	Sent      bool             `db:"sent"`
	CreatedAt time.Time        `db:"created_at"`
}

// Outbox is the durable queue between staff-action writers and the
// delivery worker.
//
// Enqueue is idempotent over (guestID, text, appealID) within a one-minute
// window: re-enqueueing an identical unsent notification returns the
// existing id with created=false.
//
// ClaimDue selects unsent rows created at or before cutoff, oldest first,
// and marks them sent in the same operation so a concurrent worker cannot
// claim the same row. MarkUnsent is the retry path after a transient
// delivery failure.
type Outbox interface {
	Enqueue(ctx context.Context, guestID int64, text string, appealID int64, kind NotificationKind) (id int64, created bool, err error)
	ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]Notification, error)
	MarkUnsent(ctx context.Context, id int64) error
	Close() error
}

const enqueueDedupWindow = time.Minute

type memoryOutbox struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Notification
	now    func() time.Time
}

// NewMemoryOutbox returns an Outbox backed by process memory, used by tests
// and the memory:// profile. It assumes a single delivery worker.
func NewMemoryOutbox() Outbox {
	return &memoryOutbox{
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *memoryOutbox) Enqueue(ctx context.Context, guestID int64, text string, appealID int64, kind NotificationKind) (int64, bool, error) {
	if guestID == 0 || strings.TrimSpace(text) == "" {
		return 0, false, ErrInvalidInput
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	windowStart := now.Add(-enqueueDedupWindow)
	for _, row := range o.rows {
		if !row.Sent && row.GuestID == guestID && row.Text == text && row.AppealID == appealID &&
			row.CreatedAt.After(windowStart) {
			return row.ID, false, nil
		}
	}
	id := o.nextID
	o.nextID++
	o.rows = append(o.rows, &Notification{
		ID:        id,
		GuestID:   guestID,
		Text:      text,
		AppealID:  appealID,
		Kind:      kind,
		CreatedAt: now,
	})
	return id, true, nil
}

func (o *memoryOutbox) ClaimDue(ctx context.Context, cutoff time.Time, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 10
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	eligible := make([]*Notification, 0, limit)
	for _, row := range o.rows {
		if row.Sent || row.CreatedAt.After(cutoff) {
			continue
		}
		eligible = append(eligible, row)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	claimed := make([]Notification, 0, len(eligible))
	for _, row := range eligible {
		row.Sent = true
		claimed = append(claimed, *row)
	}
	return claimed, nil
}

func (o *memoryOutbox) MarkUnsent(ctx context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, row := range o.rows {
		if row.ID == id {
			row.Sent = false
			return nil
		}
	}
	return ErrNotFound
}

func (o *memoryOutbox) Close() error {
	return nil
}

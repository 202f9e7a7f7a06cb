package guestdesk

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidStatus  = errors.New("invalid status")
	ErrNotImplemented = errors.New("not implemented")
)

// Logger is the minimal logging surface components accept. log.Default()
// satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type Status string

const (
	StatusNew      Status = "new"
	StatusReceived Status = "received"
	StatusDone     Status = "done"
	StatusDeclined Status = "declined"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusReceived, StatusDone, StatusDeclined:
		return true
	}
	return false
}

// Appeal is one guest-filed service request.
type Appeal struct {
	ID              int64     `db:"id" json:"id"`
	GuestID         int64     `db:"user_id" json:"userId"`
	Username        string    `db:"username" json:"username"`
	Room            string    `db:"room" json:"room"`
	Text            string    `db:"text" json:"text"`
	RequestType     string    `db:"request_type" json:"requestType"`
	OptionalComment string    `db:"optional_comment" json:"optionalComment,omitempty"`
	Status          Status    `db:"status" json:"status"`
	Priority        int       `db:"priority" json:"priority"`
	AssignedAdmin   int64     `db:"assigned_admin" json:"assignedAdmin,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// AppealMessage is one entry in an appeal's conversation thread.
type AppealMessage struct {
	ID        int64     `db:"id" json:"id"`
	AppealID  int64     `db:"appeal_id" json:"appealId"`
	Sender    string    `db:"sender" json:"sender"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type NewAppeal struct {
	GuestID         int64
	Username        string
	Room            string
	Text            string
	RequestType     string
	OptionalComment string
}

type AppealFilter struct {
	Status      Status
	Room        string
	Search      string
	RequestType string
	Limit       int
	Offset      int
}

// BulkTarget pairs an updated appeal with the guest that must be notified.
type BulkTarget struct {
	AppealID int64 `db:"id"`
	GuestID  int64 `db:"user_id"`
}

type DailyCount struct {
	Date  string `db:"date" json:"date"`
	Count int    `db:"count" json:"count"`
}

type LabelCount struct {
	Label string `db:"label" json:"label"`
	Count int    `db:"count" json:"count"`
}

type StatsReport struct {
	Total          int          `json:"total"`
	New            int          `json:"new"`
	Received       int          `json:"received"`
	Done           int          `json:"done"`
	Declined       int          `json:"declined"`
	Daily          []DailyCount `json:"daily"`
	Rooms          []LabelCount `json:"rooms"`
	Types          []LabelCount `json:"types"`
	TodayCount     int          `json:"todayCount"`
	YesterdayCount int          `json:"yesterdayCount"`
}

// Store owns appeal and message records and their status transitions.
type Store interface {
	CreateAppeal(ctx context.Context, appeal NewAppeal) (int64, error)
	GetAppeal(ctx context.Context, appealID int64) (Appeal, error)
	ListAppeals(ctx context.Context, filter AppealFilter) ([]Appeal, int, error)
	ListMessages(ctx context.Context, appealID int64) ([]AppealMessage, error)
	UpdateStatus(ctx context.Context, appealID int64, status Status) (int64, error)
	BulkUpdateStatus(ctx context.Context, appealIDs []int64, status Status) ([]BulkTarget, error)
	RecordMessage(ctx context.Context, appealID int64, sender, text string) error
	Stats(ctx context.Context) (StatsReport, error)
	Close() error
}

type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	nextMsgID int64
	appeals   map[int64]*Appeal
	messages  map[int64][]AppealMessage
	now       func() time.Time
}

// NewMemoryStore returns a Store backed by process memory, used by tests
// and the memory:// profile.
func NewMemoryStore() Store {
	return &memoryStore{
		nextID:    1,
		nextMsgID: 1,
		appeals:   map[int64]*Appeal{},
		messages:  map[int64][]AppealMessage{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *memoryStore) CreateAppeal(ctx context.Context, appeal NewAppeal) (int64, error) {
	if appeal.GuestID == 0 || strings.TrimSpace(appeal.Text) == "" {
		return 0, ErrInvalidInput
	}
	requestType := strings.TrimSpace(appeal.RequestType)
	if requestType == "" {
		requestType = "other"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	now := m.now()
	m.appeals[id] = &Appeal{
		ID:              id,
		GuestID:         appeal.GuestID,
		Username:        appeal.Username,
		Room:            appeal.Room,
		Text:            appeal.Text,
		RequestType:     requestType,
		OptionalComment: appeal.OptionalComment,
		Status:          StatusNew,
		Priority:        1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return id, nil
}

func (m *memoryStore) GetAppeal(ctx context.Context, appealID int64) (Appeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appeal, ok := m.appeals[appealID]
	if !ok {
		return Appeal{}, ErrNotFound
	}
	return *appeal, nil
}

func (m *memoryStore) ListAppeals(ctx context.Context, filter AppealFilter) ([]Appeal, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]Appeal, 0, len(m.appeals))
	for _, appeal := range m.appeals {
		if filter.Status != "" && appeal.Status != filter.Status {
			continue
		}
		if filter.Room != "" && appeal.Room != filter.Room {
			continue
		}
		if filter.RequestType != "" && appeal.RequestType != filter.RequestType {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(appeal.Text), needle) &&
				!strings.Contains(strings.ToLower(appeal.Username), needle) {
				continue
			}
		}
		matched = append(matched, *appeal)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if filter.Offset >= len(matched) {
		return []Appeal{}, total, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *memoryStore) ListMessages(ctx context.Context, appealID int64) ([]AppealMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appeals[appealID]; !ok {
		return nil, ErrNotFound
	}
	return append([]AppealMessage(nil), m.messages[appealID]...), nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, appealID int64, status Status) (int64, error) {
	if !status.Valid() {
		return 0, ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	appeal, ok := m.appeals[appealID]
	if !ok {
		return 0, ErrNotFound
	}
	appeal.Status = status
	appeal.UpdatedAt = m.now()
	return appeal.GuestID, nil
}

func (m *memoryStore) BulkUpdateStatus(ctx context.Context, appealIDs []int64, status Status) ([]BulkTarget, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if len(appealIDs) == 0 {
		return nil, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	targets := make([]BulkTarget, 0, len(appealIDs))
	now := m.now()
	for _, id := range appealIDs {
		appeal, ok := m.appeals[id]
		if !ok {
			continue
		}
		appeal.Status = status
		appeal.UpdatedAt = now
		targets = append(targets, BulkTarget{AppealID: id, GuestID: appeal.GuestID})
	}
	return targets, nil
}

func (m *memoryStore) RecordMessage(ctx context.Context, appealID int64, sender, text string) error {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(sender) == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appeals[appealID]; !ok {
		return ErrNotFound
	}
	id := m.nextMsgID
	m.nextMsgID++
	m.messages[appealID] = append(m.messages[appealID], AppealMessage{
		ID:        id,
		AppealID:  appealID,
		Sender:    sender,
		Text:      text,
		CreatedAt: m.now(),
	})
	return nil
}

func (m *memoryStore) Stats(ctx context.Context) (StatsReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := StatsReport{}
	today := m.now().Format("2006-01-02")
	yesterday := m.now().AddDate(0, 0, -1).Format("2006-01-02")
	daily := map[string]int{}
	rooms := map[string]int{}
	types := map[string]int{}
	for _, appeal := range m.appeals {
		report.Total++
		switch appeal.Status {
		case StatusNew:
			report.New++
		case StatusReceived:
			report.Received++
		case StatusDone:
			report.Done++
		case StatusDeclined:
			report.Declined++
		}
		day := appeal.CreatedAt.Format("2006-01-02")
		daily[day]++
		rooms[appeal.Room]++
		types[appeal.RequestType]++
		if day == today {
			report.TodayCount++
		}
		if day == yesterday {
			report.YesterdayCount++
		}
	}
	report.Daily = sortedDailyCounts(daily)
	report.Rooms = sortedLabelCounts(rooms)
	report.Types = sortedLabelCounts(types)
	return report, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func sortedDailyCounts(counts map[string]int) []DailyCount {
	out := make([]DailyCount, 0, len(counts))
	for date, count := range counts {
		out = append(out, DailyCount{Date: date, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func sortedLabelCounts(counts map[string]int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Label < out[j].Label
		}
		return out[i].Count > out[j].Count
	})
	return out
}

package guestdesk

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

// ServiceOptions wires a Service. Store and Outbox are required; Guard,
// Hub and Catalog fall back to a nop guard, an empty hub and the
// embedded default copy.
type ServiceOptions struct {
	Store    Store
	Outbox   Outbox
	Guard    Guard
	Hub      *Hub
	Catalog  *Catalog
	Logger   Logger
	GuardTTL time.Duration
}

// Service executes staff and guest actions: every mutation goes through
// the store first, then fans out to the durable outbox and the live
// feed. Notification delivery itself is the Worker's job.
type Service struct {
	store    Store
	outbox   Outbox
	guard    Guard
	hub      *Hub
	catalog  *Catalog
	logger   Logger
	guardTTL time.Duration
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil || opts.Outbox == nil {
		return nil, ErrInvalidInput
	}
	if opts.Guard == nil {
		opts.Guard = NewNopGuard()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.Catalog == nil {
		catalog, err := NewCatalog("", opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Catalog = catalog
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = DefaultGuardTTL
	}
	return &Service{
		store:    opts.Store,
		outbox:   opts.Outbox,
		guard:    opts.Guard,
		hub:      opts.Hub,
		catalog:  opts.Catalog,
		logger:   opts.Logger,
		guardTTL: opts.GuardTTL,
	}, nil
}

// Hub exposes the live-feed hub for the websocket endpoint.
func (s *Service) Hub() *Hub {
	return s.hub
}

// CreateAppeal files a new guest request and records its opening
// message in the conversation thread.
func (s *Service) CreateAppeal(ctx context.Context, appeal NewAppeal) (int64, error) {
	id, err := s.store.CreateAppeal(ctx, appeal)
	if err != nil {
		return 0, err
	}
	if err := s.store.RecordMessage(ctx, id, "user", appeal.Text); err != nil {
		s.logger.Printf("record opening message for appeal %d: %v", id, err)
	}
	s.logger.Printf("appeal %d created by guest %d", id, appeal.GuestID)
	return id, nil
}

// UpdateStatus moves an appeal to a new status, queues the guest
// notification and broadcasts the change. Rapid duplicates of the same
// transition within the guard TTL are skipped: applied=false means the
// whole action was suppressed, with no store write and no notification.
func (s *Service) UpdateStatus(ctx context.Context, appealID int64, status Status) (applied bool, err error) {
	if !status.Valid() {
		return false, ErrInvalidStatus
	}
	if !s.guard.TryClaim(ctx, StatusGuardKey(appealID, status), s.guardTTL) {
		s.logger.Printf("status %s for appeal %d suppressed as duplicate", status, appealID)
		return false, nil
	}
	guestID, err := s.store.UpdateStatus(ctx, appealID, status)
	if err != nil {
		return false, err
	}
	if guestID != 0 {
		text := s.catalog.StatusText(status)
		if _, _, err := s.outbox.Enqueue(ctx, guestID, text, appealID, KindForStatus(status)); err != nil {
			s.logger.Printf("queue status notification for appeal %d: %v", appealID, err)
		}
	}
	s.hub.Broadcast(ctx, StatusUpdateEvent(appealID, status))
	return true, nil
}

// Reply records an admin message on the appeal thread, queues it for
// delivery to the guest and broadcasts it to live viewers.
func (s *Service) Reply(ctx context.Context, appealID int64, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrInvalidInput
	}
	appeal, err := s.store.GetAppeal(ctx, appealID)
	if err != nil {
		return err
	}
	if err := s.store.RecordMessage(ctx, appealID, "admin", message); err != nil {
		return err
	}
	if appeal.GuestID != 0 {
		text := s.catalog.ReplyText(appealID, message)
		if _, _, err := s.outbox.Enqueue(ctx, appeal.GuestID, text, appealID, KindAdminReply); err != nil {
			s.logger.Printf("queue reply notification for appeal %d: %v", appealID, err)
		}
	}
	s.hub.Broadcast(ctx, NewMessageEvent(appealID, "admin", message))
	return nil
}

// BulkUpdateStatus applies one status to many appeals, queues a
// notification per affected guest and broadcasts a single bulk event.
func (s *Service) BulkUpdateStatus(ctx context.Context, appealIDs []int64, status Status) (int, error) {
	if !status.Valid() {
		return 0, ErrInvalidStatus
	}
	targets, err := s.store.BulkUpdateStatus(ctx, appealIDs, status)
	if err != nil {
		return 0, err
	}
	text := s.catalog.StatusText(status)
	kind := KindForStatus(status)
	updated := make([]int64, 0, len(targets))
	for _, target := range targets {
		updated = append(updated, target.AppealID)
		if target.GuestID == 0 {
			continue
		}
		if _, _, err := s.outbox.Enqueue(ctx, target.GuestID, text, target.AppealID, kind); err != nil {
			s.logger.Printf("queue bulk notification for appeal %d: %v", target.AppealID, err)
		}
	}
	if len(updated) > 0 {
		s.hub.Broadcast(ctx, BulkUpdateEvent(updated, status))
	}
	return len(updated), nil
}

// Reopen is the guest-side "not solved" action: the appeal goes back to
// new synchronously. The guest initiated it, so nothing is queued for
// delivery back to them; the dashboard still learns about it.
func (s *Service) Reopen(ctx context.Context, appealID int64) error {
	if _, err := s.store.UpdateStatus(ctx, appealID, StatusNew); err != nil {
		return err
	}
	s.logger.Printf("appeal %d reopened by guest", appealID)
	s.hub.Broadcast(ctx, StatusUpdateEvent(appealID, StatusNew))
	return nil
}

// GuestReply records a guest follow-up message on the thread and shows
// it to live viewers.
func (s *Service) GuestReply(ctx context.Context, appealID int64, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return ErrInvalidInput
	}
	if err := s.store.RecordMessage(ctx, appealID, "user", message); err != nil {
		return err
	}
	s.hub.Broadcast(ctx, NewMessageEvent(appealID, "user", message))
	return nil
}

// Appeal, Appeals, Messages and Stats are read-side pass-throughs for
// the HTTP surface.

func (s *Service) Appeal(ctx context.Context, appealID int64) (Appeal, error) {
	return s.store.GetAppeal(ctx, appealID)
}

func (s *Service) Appeals(ctx context.Context, filter AppealFilter) ([]Appeal, int, error) {
	return s.store.ListAppeals(ctx, filter)
}

func (s *Service) Messages(ctx context.Context, appealID int64) ([]AppealMessage, error) {
	return s.store.ListMessages(ctx, appealID)
}

func (s *Service) Stats(ctx context.Context) (StatsReport, error) {
	return s.store.Stats(ctx)
}

// Close releases the service's backends.
func (s *Service) Close() error {
	var firstErr error
	for _, closer := range []func() error{s.outbox.Close, s.store.Close, s.guard.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("close service: %w", firstErr)
	}
	return nil
}

package guestdesk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultGracePeriod  = 2 * time.Second
	DefaultBatchSize    = 10
	DefaultSendTimeout  = 15 * time.Second
)

// Button is one inline action offered under a delivered notification.
type Button struct {
	Text         string
	CallbackData string
}

// Messenger pushes one rendered notification into a guest's chat
// session. Implementations report unrecoverable recipients with a
// permanent DeliveryError; any other error is treated as transient.
type Messenger interface {
	SendMessage(ctx context.Context, guestID int64, text string, buttons []Button) error
}

// DeliveryError classifies a send failure. Permanent means the
// recipient can never receive this notification (blocked the bot, chat
// gone, sending to self) and retrying is pointless.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent delivery failure: %v", e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsPermanentDelivery reports whether err marks the recipient as
// unreachable for good.
func IsPermanentDelivery(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr) && deliveryErr.Permanent
}

// WorkerOptions configures a delivery Worker. Zero values select the
// defaults above.
type WorkerOptions struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	BatchSize    int
	SendTimeout  time.Duration
	Logger       Logger
	Catalog      *Catalog
	Now          func() time.Time
}

// Worker drains the outbox: each cycle claims a bounded batch of due
// notifications and attempts delivery in claim order. A permanent
// failure is terminal after the one attempt; a transient failure puts
// the row back for a later cycle.
type Worker struct {
	outbox    Outbox
	messenger Messenger
	opts      WorkerOptions
}

func NewWorker(outbox Outbox, messenger Messenger, opts WorkerOptions) (*Worker, error) {
	if outbox == nil || messenger == nil {
		return nil, ErrInvalidInput
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Worker{outbox: outbox, messenger: messenger, opts: opts}, nil
}

// Run polls until ctx is done. The interval is jittered so several
// relay processes sharing one outbox do not synchronize their cycles.
func (w *Worker) Run(ctx context.Context) error {
	w.opts.Logger.Printf("delivery worker: polling every %s (grace %s, batch %d)",
		w.opts.PollInterval, w.opts.GracePeriod, w.opts.BatchSize)
	for {
		if err := w.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.opts.Logger.Printf("delivery worker: cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitteredInterval(w.opts.PollInterval)):
		}
	}
}

// RunCycle claims and processes one batch. It returns an error only
// when the outbox itself fails; individual delivery failures are
// handled inside the cycle. Claimed rows that were never attempted
// because the context ended mid-batch are released for a later cycle.
func (w *Worker) RunCycle(ctx context.Context) error {
	cutoff := w.opts.Now().Add(-w.opts.GracePeriod)
	batch, err := w.outbox.ClaimDue(ctx, cutoff, w.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due notifications: %w", err)
	}
	for i, notification := range batch {
		if ctx.Err() != nil {
			w.releaseBatch(batch[i:])
			return ctx.Err()
		}
		w.deliver(ctx, notification)
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, n Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, w.opts.SendTimeout)
	err := w.messenger.SendMessage(sendCtx, n.GuestID, n.Text, w.buttonsFor(n))
	cancel()
	if err == nil {
		w.opts.Logger.Printf("delivered notification %d to guest %d", n.ID, n.GuestID)
		return
	}
	if IsPermanentDelivery(err) {
		w.opts.Logger.Printf("dropping notification %d for guest %d: %v", n.ID, n.GuestID, err)
		return
	}
	w.opts.Logger.Printf("notification %d for guest %d will retry: %v", n.ID, n.GuestID, err)
	// The reset must land even when the send failed because ctx ended.
	resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.SendTimeout)
	defer cancel()
	if resetErr := w.outbox.MarkUnsent(resetCtx, n.ID); resetErr != nil {
		w.opts.Logger.Printf("reset notification %d for retry: %v", n.ID, resetErr)
	}
}

// releaseBatch puts claimed-but-unattempted rows back so a shutdown
// mid-batch does not strand them as sent.
func (w *Worker) releaseBatch(batch []Notification) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.SendTimeout)
	defer cancel()
	for _, notification := range batch {
		if err := w.outbox.MarkUnsent(ctx, notification.ID); err != nil {
			w.opts.Logger.Printf("release unattempted notification %d: %v", notification.ID, err)
		}
	}
}

func (w *Worker) buttonsFor(n Notification) []Button {
	if n.AppealID == 0 {
		return nil
	}
	reopenLabel, replyLabel := "Не решено", "Ответить"
	if w.opts.Catalog != nil {
		reopenLabel = w.opts.Catalog.ReopenButtonLabel()
		replyLabel = w.opts.Catalog.ReplyButtonLabel()
	}
	switch n.Kind {
	case KindStatusDone:
		return []Button{{Text: reopenLabel, CallbackData: fmt.Sprintf("user_reopen:%d", n.AppealID)}}
	case KindAdminReply:
		return []Button{{Text: replyLabel, CallbackData: fmt.Sprintf("user_reply:%d", n.AppealID)}}
	default:
		return nil
	}
}

// jitteredInterval spreads base by ±20%.
func jitteredInterval(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	spread := int64(float64(base) * 0.2)
	if spread <= 0 {
		return base
	}
	return base - time.Duration(spread) + time.Duration(rand.Int63n(2*spread+1))
}

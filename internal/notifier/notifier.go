package notifier

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Sender delivers a message to a user
type Sender interface {
	SendNotification(ctx context.Context, userID int64, text string) error
}

type message struct {
	userID int64
	text   string
}

// Notifier queues messages for users outside of their conversation and sends
// them under the Telegram broadcast limit.
type Notifier struct {
	sender  Sender
	limiter *rate.Limiter
	queue   chan message
	log     *slog.Logger
}

// New creates a new Notifier
func New(sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(time.Second/25), 5),
		queue:   make(chan message, 256),
		log:     log,
	}
}

// Notify enqueues a message. It never blocks; a full queue drops the message.
func (n *Notifier) Notify(userID int64, text string) {
	select {
	case n.queue <- message{userID: userID, text: text}:
	default:
		n.log.Warn("notification queue full, dropping message", "user_id", userID)
	}
}

// Start sends queued messages until ctx is cancelled
func (n *Notifier) Start(ctx context.Context) {
	n.log.Info("notifier started")

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return
			}
			if err := n.sender.SendNotification(ctx, m.userID, m.text); err != nil {
				n.log.Error("send notification", "user_id", m.userID, "error", err)
			}
		}
	}
}

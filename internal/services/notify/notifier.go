package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/trm-platform/trm-backend/internal/realtime"
)

// Notifier is strictly fire-and-forget: a failed notification is logged and
// dropped, it never fails the operation that triggered it. Events go to the
// websocket hub for connected dashboards and to a Redis channel for any
// other consumer (SMS worker, email worker).

const defaultChannel = "trm:events"

type StatusEvent struct {
	Type       string    `json:"type"` // referral_status, payment_status
	ReferralID string    `json:"referral_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Status     string    `json:"status"`
	ActorID    string    `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

type Notifier struct {
	RDB     *redis.Client
	Hub     *realtime.Hub
	Channel string
}

func New(rdb *redis.Client, hub *realtime.Hub) *Notifier {
	return &Notifier{RDB: rdb, Hub: hub, Channel: defaultChannel}
}

// ReferralStatusChanged notifies both parties of a referral transition.
func (n *Notifier) ReferralStatusChanged(referrerID, companyOwnerID uuid.UUID, ev StatusEvent) {
	if n == nil {
		return
	}
	ev.At = time.Now()

	if n.Hub != nil {
		n.Hub.SendToParties(referrerID, companyOwnerID, ev)
	}
	n.publish(ev)
}

// PaymentStatusChanged notifies the payout recipient.
func (n *Notifier) PaymentStatusChanged(recipientID uuid.UUID, ev StatusEvent) {
	if n == nil {
		return
	}
	ev.At = time.Now()

	if n.Hub != nil {
		n.Hub.SendToUser(recipientID, ev)
	}
	n.publish(ev)
}

func (n *Notifier) publish(ev StatusEvent) {
	if n.RDB == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := n.RDB.Publish(ctx, n.Channel, payload).Err(); err != nil {
		log.Printf("notify: publish to %s failed: %v", n.Channel, err)
	}
}

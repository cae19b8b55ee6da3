// Package pubsub carries account lifecycle events (add/delete) between the
// account store and subscribed sessions over a Watermill Pub/Sub. The
// single-node wiring runs on the in-process GoChannel implementation; the
// same bus works over AMQP when a broker is configured.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/device-delivery-service/internal/domain/model"
)

const (
	TopicAccountAdded   = "account.added.v1"
	TopicAccountDeleted = "account.deleted.v1"
)

// Topic maps an event kind to its routing topic.
func Topic(kind model.AccountEventKind) string {
	if kind == model.AccountDeleted {
		return TopicAccountDeleted
	}
	return TopicAccountAdded
}

// Bus is the lifecycle event channel. One per process; sessions hold
// account-filtered subscriptions on it.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger *slog.Logger
}

func NewBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *Bus {
	return &Bus{pub: pub, sub: sub, logger: logger}
}

// NewGoChannelBus builds the default in-process bus. Publish blocks until
// subscribers ack so that lifecycle events arrive in publish order; an add
// must never be observed after the delete that follows it.
func NewGoChannelBus(wmLogger watermill.LoggerAdapter, logger *slog.Logger) *Bus {
	ch := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, wmLogger)
	return NewBus(ch, ch, logger)
}

// Publisher exposes the underlying publisher for infrastructure that needs
// raw access (poison queues and the like).
func (b *Bus) Publisher() message.Publisher {
	return b.pub
}

// Publish emits one lifecycle event to its kind's topic.
func (b *Bus) Publish(ctx context.Context, ev model.AccountEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("lifecycle bus: marshal: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := b.pub.Publish(Topic(ev.Kind), msg); err != nil {
		return fmt.Errorf("lifecycle bus: publish %s: %w", Topic(ev.Kind), err)
	}
	return nil
}

// Subscription is one account-scoped listener on a lifecycle topic.
// Cancel is idempotent; canceling an already canceled (or never delivered)
// subscription is silently tolerated.
type Subscription struct {
	C      <-chan model.AccountEvent
	Kind   model.AccountEventKind
	cancel context.CancelFunc
	once   sync.Once
}

func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe opens an account-filtered stream of lifecycle events of the
// given kind. An empty account subscribes to every account on the topic:
// that is the pre-login "wait for my account to appear" case, where the
// canonical ID is not known yet. Events for other accounts are acked and
// dropped. A slow consumer loses events rather than blocking the bus.
func (b *Bus) Subscribe(ctx context.Context, kind model.AccountEventKind, acct model.AccountID) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	msgs, err := b.sub.Subscribe(subCtx, Topic(kind))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("lifecycle bus: subscribe %s: %w", Topic(kind), err)
	}

	out := make(chan model.AccountEvent, 8)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev model.AccountEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Error("lifecycle bus: malformed event",
					slog.String("msg_id", msg.UUID),
					slog.Any("err", err),
				)
				msg.Ack()
				continue
			}
			msg.Ack()

			if acct != "" && ev.AccountID != acct {
				continue
			}
			select {
			case out <- ev:
			default:
				b.logger.Warn("lifecycle bus: subscriber lagging, event dropped",
					slog.String("account_id", string(ev.AccountID)),
					slog.String("kind", string(ev.Kind)),
				)
			}
		}
	}()

	return &Subscription{C: out, Kind: kind, cancel: cancel}, nil
}

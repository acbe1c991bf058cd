// Package events publishes activity events after committed writes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nodesocial/apiserver/internal/logging"
	"github.com/nodesocial/apiserver/internal/mq"
	"github.com/nodesocial/apiserver/types"
)

const (
	publishTimeout = 3 * time.Second
	contentType    = "application/json"
	attrEventType  = "event_type"
)

// Publisher encodes events as JSON and sends them to one channel.
// Publishing is best-effort: failures are logged, never returned, because the
// write the event describes has already committed.
type Publisher struct {
	queue   *mq.MQ
	channel string
	log     logging.Logger
}

func NewPublisher(queue *mq.MQ, channel string, log logging.Logger) *Publisher {
	return &Publisher{queue: queue, channel: channel, log: log}
}

func (p *Publisher) Publish(ctx context.Context, event types.Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error(ctx, "encode event failed", "type", event.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attrs := map[string]string{
		mq.AttrContentType: contentType,
		attrEventType:      string(event.Type),
		mq.AttrOrderingKey: event.ActorID.String(),
	}
	id, err := p.queue.Publish(ctx, p.channel, data, attrs)
	if err != nil {
		p.log.Warn(ctx, "publish event failed", "type", event.Type, "channel", p.channel, "error", err)
		return
	}
	p.log.Debug(ctx, "event published", "type", event.Type, "message_id", id)
}

// Subscribe delivers decoded events from channel to handle until ctx is done.
// Undecodable messages are acknowledged and dropped.
func Subscribe(ctx context.Context, queue *mq.MQ, channel string, log logging.Logger, handle func(context.Context, types.Event) error) error {
	return queue.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		var event types.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn(ctx, "dropping undecodable event", "message_id", msg.ID, "error", err)
			return nil
		}
		if err := handle(ctx, event); err != nil {
			return fmt.Errorf("handle %s: %w", event.Type, err)
		}
		return nil
	})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, types.Event) {}

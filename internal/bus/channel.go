package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smellreg/smellreg/internal/domain"
)

// ChannelBus is the in-process event bus. Every subscription owns a
// buffered channel drained by its own goroutine; a full buffer drops the
// message for that subscriber.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string]*topicSubs
	closed     bool
}

// topicSubs holds the subscribers of one tenant topic. Plain subscribers
// all receive a message; a queue group receives it once.
type topicSubs struct {
	fanout []*channelSubscription
	queues map[string]*queueGroup
}

type queueGroup struct {
	members []*channelSubscription
	next    atomic.Uint64
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	key     string
	topic   string
	queue   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewChannelBus creates a channel bus with the given per-subscriber buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]*topicSubs),
	}
}

func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  map[string]string{},
		Timestamp: time.Now().UnixNano(),
	}

	// Hold the read lock while sending so Close cannot close a channel
	// underneath us.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}

	subs := b.topics[tenantID+":"+topic]
	if subs == nil {
		return nil
	}
	for _, s := range subs.fanout {
		s.deliver(msg)
	}
	for _, g := range subs.queues {
		if n := uint64(len(g.members)); n > 0 {
			g.members[(g.next.Add(1)-1)%n].deliver(msg)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, topic, "", handler)
}

func (b *ChannelBus) QueueSubscribe(ctx context.Context, tenantID string, topic string, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, tenantID, topic, queue, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, tenantID, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		key:     tenantID + ":" + topic,
		topic:   topic,
		queue:   queue,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	subs := b.topics[sub.key]
	if subs == nil {
		subs = &topicSubs{queues: make(map[string]*queueGroup)}
		b.topics[sub.key] = subs
	}
	if queue == "" {
		subs.fanout = append(subs.fanout, sub)
	} else {
		g := subs.queues[queue]
		if g == nil {
			g = &queueGroup{}
			subs.queues[queue] = g
		}
		g.members = append(g.members, sub)
	}

	go sub.run()
	return sub, nil
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close stops every subscription. Further publishes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, s := range subs.fanout {
			s.cancel()
		}
		for _, g := range subs.queues {
			for _, s := range g.members {
				s.cancel()
			}
		}
	}
	b.topics = make(map[string]*topicSubs)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.key]
	if subs == nil {
		return
	}
	if sub.queue == "" {
		subs.fanout = without(subs.fanout, sub)
	} else if g := subs.queues[sub.queue]; g != nil {
		g.members = without(g.members, sub)
		if len(g.members) == 0 {
			delete(subs.queues, sub.queue)
		}
	}
	if len(subs.fanout) == 0 && len(subs.queues) == 0 {
		delete(b.topics, sub.key)
	}
}

func without(list []*channelSubscription, sub *channelSubscription) []*channelSubscription {
	out := list[:0]
	for _, s := range list {
		if s != sub {
			out = append(out, s)
		}
	}
	return out
}

func (s *channelSubscription) deliver(msg *domain.Message) {
	select {
	case s.msgCh <- msg:
	default:
		slog.Warn("subscriber buffer full, message dropped",
			"topic", s.topic,
			"subscription", s.id,
			"message_id", msg.ID,
		)
	}
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.remove(s)
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}

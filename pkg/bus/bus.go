package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	maxPendingAcks = 256
	ackTimeout     = 5 * time.Second
	// Messages a handler keeps failing are dropped after this many deliveries.
	maxDeliver   = 5
	redeliveryIn = 2 * time.Second
)

var errNilBus = errors.New("nil bus")

// Bus wraps a NATS JetStream connection. Publishing is asynchronous: Publish
// hands the message to the connection and returns without waiting for the
// stream to acknowledge it.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu      sync.RWMutex
	onError func(subject string, err error)
}

// New creates a Bus connected to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	b := &Bus{conn: nc}
	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(maxPendingAcks),
		nats.PublishAsyncTimeout(ackTimeout),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			b.reportPublishError(msg.Subject, err)
		}),
	)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.js = js

	return b, nil
}

// OnPublishError registers fn to receive publishes the stream never acknowledged.
func (b *Bus) OnPublishError(fn func(subject string, err error)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

func (b *Bus) reportPublishError(subject string, err error) {
	b.mu.RLock()
	fn := b.onError
	b.mu.RUnlock()
	if fn != nil {
		fn(subject, err)
	}
}

// EnsureStream creates the named stream over subjects unless it already exists.
func (b *Bus) EnsureStream(name string, subjects []string) error {
	if b == nil {
		return errNilBus
	}

	_, err := b.js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	return err
}

// Ping reports whether the connection is usable.
func (b *Bus) Ping() error {
	if b == nil {
		return errNilBus
	}
	if !b.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

// Publish encodes v as JSON and queues it for subj. It does not wait for the
// stream's acknowledgement; failed acks go to the OnPublishError callback.
func (b *Bus) Publish(ctx context.Context, subj string, v any) error {
	if b == nil {
		return errNilBus
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = b.js.PublishAsync(subj, data)
	return err
}

// Flush waits until every queued publish has been acknowledged or ctx ends.
func (b *Bus) Flush(ctx context.Context) error {
	if b == nil {
		return errNilBus
	}
	select {
	case <-b.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close gives queued publishes a moment to be acknowledged, then drains the connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = b.Flush(ctx)

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.err = s.sub.Drain() })
	return s.err
}

// Subscribe creates a durable consumer on subj and invokes fn for each
// message. A handler error schedules redelivery; after maxDeliver attempts
// the server stops offering the message.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errNilBus
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		msgCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := fn(msgCtx, msg.Data); err != nil {
			_ = msg.NakWithDelay(redeliveryIn)
			return
		}
		_ = msg.Ack()
	}

	sub, err := b.js.Subscribe(subj, handler,
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(maxDeliver),
	)
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

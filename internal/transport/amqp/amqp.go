// Package amqp relays a session over RabbitMQ: observations arrive as JSON
// envelopes on a queue and replies are published to an exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"livereply/internal/chat"
	"livereply/internal/transport"
	logx "livereply/pkg/logx"
)

const (
	TypeObservation = "livereply.observation"
	TypeReply       = "livereply.reply"

	DefaultPrefetch = 16
	appID           = "livereply"
)

type Config struct {
	URL        string
	Queue      string
	Exchange   string
	RoutingKey string
	Prefetch   int
}

// Meta is the envelope header shared with other services on the broker.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

type Envelope[T any] struct {
	Meta Meta `json:"meta"`
	Data T    `json:"data"`
}

// Reply is the payload of an outbound envelope.
type Reply struct {
	Destination chat.Destination `json:"destination"`
	Text        string           `json:"text"`
	Key         string           `json:"key,omitempty"`
}

// Channel is the subset of *amqp091.Channel the adapter uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	Confirm(noWait bool) error
	NotifyPublish(c chan amqp091.Confirmation) chan amqp091.Confirmation
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Connection is the subset of *amqp091.Connection the adapter uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(c chan *amqp091.Error) chan *amqp091.Error
	Close() error
}

type Dialer func(url string) (Connection, error)

type conn struct{ *amqp091.Connection }

func (c conn) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dial(u string) (Connection, error) {
	c, err := amqp091.Dial(u)
	if err != nil {
		return nil, err
	}
	return conn{c}, nil
}

// Adapter is the Source and Sink of an amqp session.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	dial Dialer

	mu       sync.Mutex
	pub      Channel
	confirms chan amqp091.Confirmation
	seq      uint64
}

type Option func(*Adapter)

func WithLogger(log logx.Logger) Option { return func(a *Adapter) { a.log = log } }
func WithDialer(d Dialer) Option        { return func(a *Adapter) { a.dial = d } }

func New(cfg Config, opts ...Option) *Adapter {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	a := &Adapter{cfg: cfg, dial: dial}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	a.log = a.log.With(logx.Transport("amqp"), logx.String("queue", cfg.Queue))
	return a
}

func (a *Adapter) Name() string { return "amqp" }

// Run consumes the queue until ctx is done or the broker goes away. Every
// delivery is acked once handed to out; undecodable ones are acked and
// dropped so they do not loop.
func (a *Adapter) Run(ctx context.Context, out chan<- chat.RawObservation, _ transport.Foreground) error {
	a.log.Info("connecting", logx.String("host", hostOf(a.cfg.URL)))
	c, err := a.dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	defer c.Close()
	closed := c.NotifyClose(make(chan *amqp091.Error, 1))

	sub, err := c.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	defer sub.Close()
	if _, err := sub.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: declare queue %q: %w", a.cfg.Queue, err)
	}
	if err := sub.Qos(a.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp: qos: %w", err)
	}
	deliveries, err := sub.Consume(a.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp: consume: %w", err)
	}

	pub, err := c.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open publish channel: %w", err)
	}
	defer pub.Close()
	if err := pub.Confirm(false); err != nil {
		return fmt.Errorf("amqp: confirm mode: %w", err)
	}
	a.setPublisher(pub, pub.NotifyPublish(make(chan amqp091.Confirmation, 16)))
	defer a.setPublisher(nil, nil)

	a.log.Info("consuming")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-closed:
			if ok && e != nil {
				return fmt.Errorf("%w: %s", transport.ErrDisconnected, e.Reason)
			}
			return transport.ErrDisconnected
		case d, ok := <-deliveries:
			if !ok {
				return transport.ErrDisconnected
			}
			if err := a.handle(ctx, d, out); err != nil {
				return err
			}
		}
	}
}

func (a *Adapter) handle(ctx context.Context, d amqp091.Delivery, out chan<- chat.RawObservation) error {
	obs, err := DecodeObservation(d.Body)
	if err != nil {
		a.log.Warn("dropping poison message", logx.String("message_id", d.MessageId), logx.Err(err))
		_ = d.Ack(false)
		return nil
	}
	select {
	case out <- obs:
		return d.Ack(false)
	case <-ctx.Done():
		_ = d.Nack(false, true)
		return ctx.Err()
	}
}

// DecodeObservation parses an inbound envelope. The envelope time fills in a
// missing observation time.
func DecodeObservation(body []byte) (chat.RawObservation, error) {
	var env Envelope[chat.RawObservation]
	if err := json.Unmarshal(body, &env); err != nil {
		return chat.RawObservation{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Meta.Type != "" && env.Meta.Type != TypeObservation {
		return chat.RawObservation{}, fmt.Errorf("unexpected type %q", env.Meta.Type)
	}
	if len(env.Data.Parts) == 0 {
		return chat.RawObservation{}, errors.New("observation has no parts")
	}
	if env.Data.ObservedAt.IsZero() {
		env.Data.ObservedAt = env.Meta.Time
	}
	return env.Data, nil
}

// EncodeReply builds the outbound envelope for a reply.
func EncodeReply(id string, job chat.ReplyJob, to chat.Destination, text string, now time.Time) ([]byte, error) {
	env := Envelope[Reply]{
		Meta: Meta{ID: id, Type: TypeReply, CorrelationID: job.ID, Time: now.UTC()},
		Data: Reply{Destination: to, Text: text, Key: job.IdentityKey},
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = id
	}
	return json.Marshal(env)
}

func (a *Adapter) setPublisher(ch Channel, confirms chan amqp091.Confirmation) {
	a.mu.Lock()
	a.pub, a.confirms, a.seq = ch, confirms, 0
	a.mu.Unlock()
}

// Deliver publishes the reply and waits for the broker to confirm it.
func (a *Adapter) Deliver(ctx context.Context, to chat.Destination, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pub == nil {
		return transport.ErrDisconnected
	}

	job, _ := chat.JobFrom(ctx)
	id := uuid.NewString()
	now := time.Now()
	body, err := EncodeReply(id, job, to, text, now)
	if err != nil {
		return fmt.Errorf("amqp: marshal reply: %w", err)
	}
	err = a.pub.PublishWithContext(ctx, a.cfg.Exchange, a.cfg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp091.Persistent,
		MessageId:     id,
		CorrelationId: firstNonEmpty(job.ID, id),
		Type:          TypeReply,
		Timestamp:     now.UTC(),
		AppId:         appID,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	a.seq++

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return transport.ErrTimeout
			}
			return ctx.Err()
		case c, ok := <-a.confirms:
			if !ok {
				return transport.ErrDisconnected
			}
			if c.DeliveryTag < a.seq {
				continue // late confirm of an earlier, timed-out publish
			}
			if !c.Ack {
				return errors.New("amqp: broker rejected reply")
			}
			return nil
		}
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

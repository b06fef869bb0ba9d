package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Header keys carried on every Kestrel NATS message. Payloads travel as
// raw bytes; the envelope fields ride in headers.
const (
	headerMessageID = "Kestrel-Message-Id"
	headerTenantID  = "Kestrel-Tenant-Id"
	headerTimestamp = "Kestrel-Timestamp"
)

// NATSBus implements EventBus on NATS core subjects of the form
// "<topic>.<tenant>". Ingested transactions are consumed through a queue
// group so that replicas split the work instead of scoring twice.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying the initial dial.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	conn, err := connectNATS(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:  conn,
		queue: cfg.NATSQueueGroup,
		subs:  make(map[string]*natsSubscription),
	}, nil
}

func connectNATS(cfg domain.EventBusConfig) (*nats.Conn, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn *nats.Conn
		if conn, err = nats.Connect(url, opts...); err == nil {
			return conn, nil
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
}

// Publish sends payload on the tenant's subject for topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := validatePublishTenant(tenantID); err != nil {
		return err
	}

	msg := nats.NewMsg(b.makeSubject(tenantID, topic))
	msg.Data = payload
	msg.Header.Set(headerMessageID, uuid.NewString())
	msg.Header.Set(headerTenantID, tenantID)
	msg.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().UnixNano(), 10))

	if err := b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Subscribe registers handler for topic. tenantID may be AllTenants.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errors.New("tenantID is required")
	}

	subject := b.makeSubject(tenantID, topic)
	deliver := func(m *nats.Msg) {
		msg := decodeNATSMsg(topic, m)
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		natsSub *nats.Subscription
		err     error
	)
	if b.queue != "" && topic == domain.TopicTransactionIngested {
		natsSub, err = b.conn.QueueSubscribe(subject, b.queue, deliver)
	} else {
		natsSub, err = b.conn.Subscribe(subject, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	sub := &natsSubscription{bus: b, id: uuid.NewString(), topic: topic, sub: natsSub}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// decodeNATSMsg rebuilds a domain message from subject and headers.
// Messages from foreign publishers lack headers; the tenant then comes from
// the last subject token.
func decodeNATSMsg(topic string, m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:    topic,
		Payload:  m.Data,
		Metadata: map[string]string{"subject": m.Subject},
	}

	msg.ID = m.Header.Get(headerMessageID)
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.TenantID = m.Header.Get(headerTenantID)
	if msg.TenantID == "" && len(m.Subject) > len(topic)+1 {
		msg.TenantID = m.Subject[len(topic)+1:]
	}
	if ts, err := strconv.ParseInt(m.Header.Get(headerTimestamp), 10, 64); err == nil {
		msg.Timestamp = ts
	} else {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}

// Ping flushes the connection to confirm the server is reachable.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions so in-flight handlers finish, then closes.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}

// makeSubject puts the tenant last so AllTenants becomes the
// single-token wildcard.
func (b *NATSBus) makeSubject(tenantID, topic string) string {
	return topic + "." + tenantID
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}

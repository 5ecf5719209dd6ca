// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/logger"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/messagequeue"
)

const (
	streamName = "ELIGIBILITY"

	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"

	// maxRetries is how many times a failing message is redelivered before
	// it moves to <subject>.dlq.
	maxRetries = 3
)

var _ messagequeue.Queue = (*Queue)(nil)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	log := slog.Default().With("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name("eligibility"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"applications.>", "models.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js, log: log}, nil
}

// JetStream returns the underlying JetStream context, used to open KV buckets.
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// Publish sends a message to the given subject. The request ID carried by
// ctx travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject. Messages
// failing schema validation go straight to the dead-letter subject; handler
// failures are retried up to maxRetries first.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	hdrs := msg.Headers()
	ctx := context.Background()
	if id := hdrs.Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		q.log.Warn("message failed validation", "subject", msg.Subject(), "error", err)
		q.moveToDLQ(msg)
		return
	}

	if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
		n := retryCount(hdrs)
		q.log.Error("message handler failed", "subject", msg.Subject(), "retry", n, "error", err)
		if n >= maxRetries {
			q.moveToDLQ(msg)
			return
		}
		q.republish(msg, n+1)
		return
	}
	if err := msg.Ack(); err != nil {
		q.log.Error("nats ack failed", "error", err)
	}
}

// republish puts the message back on its subject with an incremented retry
// count and acks the original.
func (q *Queue) republish(msg jetstream.Msg, retry int) {
	out := &nats.Msg{Subject: msg.Subject(), Data: msg.Data(), Header: nats.Header{}}
	for k, v := range msg.Headers() {
		out.Header[k] = v
	}
	out.Header.Set(headerRetryCount, strconv.Itoa(retry))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		q.log.Error("nats republish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			q.log.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		q.log.Error("nats ack failed", "error", err)
	}
}

func (q *Queue) moveToDLQ(msg jetstream.Msg) {
	dlq := msg.Subject() + ".dlq"
	out := &nats.Msg{Subject: dlq, Data: msg.Data(), Header: msg.Headers()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		q.log.Error("nats dlq publish failed", "subject", dlq, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			q.log.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	q.log.Warn("message moved to dlq", "subject", dlq)
	if err := msg.Ack(); err != nil {
		q.log.Error("nats ack failed", "error", err)
	}
}

func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

func consumerName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "star", ">", "all")
	return "eligibility_" + r.Replace(subject)
}

// Drain gracefully drains all subscriptions before closing.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

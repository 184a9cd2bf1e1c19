package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher delivers a payload to a subject. msgID identifies the message so
// consumers can drop redeliveries.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

type NatsPublisher struct {
	conn *nats.Conn
}

func NewNatsPublisher(conn *nats.Conn) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

// Connect dials NATS with reconnect logging. name shows up in the server's
// connection list.
func Connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("Disconnected from NATS", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("Reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to NATS", slog.String("name", name))
	return nc, nil
}

func (p *NatsPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, msgID)
	msg.Data = data

	if err := p.conn.PublishMsg(msg); err != nil {
		slog.ErrorContext(ctx, "Error publishing to NATS", slog.String("subject", subject), slog.Any("error", err))
		return err
	}

	slog.DebugContext(ctx, "Published event to NATS", slog.String("subject", subject), slog.String("msg_id", msgID))
	return nil
}

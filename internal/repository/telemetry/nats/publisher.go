package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sharetube/watchparty/internal/service/telemetry"
)

const (
	DefaultSubjectPrefix = "watchparty.telemetry"
	maxReconnects        = -1
	reconnectWait        = 2 * time.Second
)

type iPublisher interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	conn          iPublisher
	subjectPrefix string
}

func NewPublisher(conn iPublisher, subjectPrefix string) *Publisher {
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	return &Publisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}
}

func (p *Publisher) Subject(roomId string) string {
	return p.subjectPrefix + "." + roomId
}

func (p *Publisher) Save(_ context.Context, report telemetry.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := p.conn.Publish(p.Subject(report.RoomId), data); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}

	return nil
}

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("watchparty"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "error", err)
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return nc, nil
}

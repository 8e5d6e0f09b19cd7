// Package nats publishes guardrail audit trails to NATS subjects, one per tenant.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/grounded-rag/internal/core/domain"
	"github.com/kirillkom/grounded-rag/internal/infrastructure/resilience"
)

const (
	eventType       = "guardrail.decision"
	headerMsgID     = "Nats-Msg-Id"
	headerTenant    = "Tenant-Id"
	defaultWildcard = ">"
)

type Publisher struct {
	conn     *nats.Conn
	prefix   string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

// Connect dials url and publishes under subjectPrefix.<tenant>.
func Connect(url, subjectPrefix string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("grounded-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		prefix:   strings.TrimSuffix(subjectPrefix, "."),
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// Ping reports whether the connection is currently usable.
func (p *Publisher) Ping(context.Context) error {
	if p.conn == nil || !p.conn.IsConnected() {
		return fmt.Errorf("nats: %w", nats.ErrDisconnected)
	}
	return nil
}

type decisionEvent struct {
	Type  string            `json:"type"`
	Trail domain.AuditTrail `json:"trail"`
}

func (p *Publisher) PublishDecision(ctx context.Context, trail domain.AuditTrail) error {
	msg, err := newDecisionMsg(p.prefix, trail)
	if err != nil {
		return err
	}

	err = p.executor.Execute(ctx, "nats.publish", func(_ context.Context) error {
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}, classifyNATSError)
	return wrapTemporaryIfNeeded(err)
}

func newDecisionMsg(prefix string, trail domain.AuditTrail) (*nats.Msg, error) {
	data, err := json.Marshal(decisionEvent{Type: eventType, Trail: trail})
	if err != nil {
		return nil, fmt.Errorf("marshal audit trail: %w", err)
	}
	msg := nats.NewMsg(subjectFor(prefix, trail.TenantID))
	msg.Data = data
	if trail.ID != "" {
		msg.Header.Set(headerMsgID, trail.ID)
	}
	msg.Header.Set(headerTenant, trail.TenantID)
	return msg, nil
}

// subjectFor replaces characters NATS treats as separators or wildcards.
func subjectFor(prefix, tenantID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(tenantID))
	if token == "" {
		token = "unknown"
	}
	return prefix + "." + token
}

// Subscribe delivers decoded trails for tenantID (or every tenant when empty)
// until ctx is cancelled, then drains the subscription.
func (p *Publisher) Subscribe(ctx context.Context, tenantID string, handler func(context.Context, domain.AuditTrail) error) error {
	subject := p.prefix + "." + defaultWildcard
	if tenantID != "" {
		subject = subjectFor(p.prefix, tenantID)
	}

	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		trail, err := decodeDecision(msg.Data)
		if err != nil {
			p.logger.Warn("audit_decode_failed", slog.String("subject", msg.Subject), slog.Any("error", err))
			return
		}
		if err := handler(ctx, trail); err != nil {
			p.logger.Warn("audit_handler_failed", slog.String("audit_id", trail.ID), slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

func decodeDecision(data []byte) (domain.AuditTrail, error) {
	var event decisionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.AuditTrail{}, fmt.Errorf("decode audit event: %w", err)
	}
	if event.Type != eventType {
		return domain.AuditTrail{}, fmt.Errorf("unexpected audit event type %q", event.Type)
	}
	return event.Trail, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/model"
)

// DefaultSubject is the NATS subject invalidation events are published on.
const DefaultSubject = "saferoute.cells.invalidated"

// Invalidator is notified whenever persisted cells change.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
	InvalidateMonth(ctx context.Context, month time.Time) error
}

// Event scopes.
const (
	ScopeAll   = "all"
	ScopeMonth = "month"
)

// Event is the wire form of an invalidation.
type Event struct {
	Scope string `json:"scope"`
	Month string `json:"month,omitempty"`
}

// Multi fans an invalidation out to several targets. Every target is called
// even when an earlier one fails; the errors are joined.
type Multi []Invalidator

// InvalidateAll implements Invalidator.
func (m Multi) InvalidateAll(ctx context.Context) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		errs = append(errs, inv.InvalidateAll(ctx))
	}
	return errors.Join(errs...)
}

// InvalidateMonth implements Invalidator.
func (m Multi) InvalidateMonth(ctx context.Context, month time.Time) error {
	var errs []error
	for _, inv := range m {
		if inv == nil {
			continue
		}
		errs = append(errs, inv.InvalidateMonth(ctx, month))
	}
	return errors.Join(errs...)
}

// Publisher is the subset of *nats.Conn used to broadcast events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher broadcasts invalidations so every serving process can drop
// its local snapshots.
type NATSPublisher struct {
	conn    Publisher
	subject string
}

// NewNATSPublisher creates a publisher. An empty subject uses DefaultSubject.
func NewNATSPublisher(conn Publisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// InvalidateAll implements Invalidator.
func (p *NATSPublisher) InvalidateAll(_ context.Context) error {
	return p.publish(Event{Scope: ScopeAll})
}

// InvalidateMonth implements Invalidator.
func (p *NATSPublisher) InvalidateMonth(_ context.Context, month time.Time) error {
	return p.publish(Event{Scope: ScopeMonth, Month: month.UTC().Format("2006-01")})
}

func (p *NATSPublisher) publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "cache: marshal invalidation event")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return eris.Wrapf(err, "cache: publish to %s", p.subject)
	}
	return nil
}

// Subscriber is the subset of *nats.Conn used to receive events.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Subscribe applies invalidation events from subject to target.
func Subscribe(conn Subscriber, subject string, target Invalidator) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := conn.Subscribe(subject, Handler(target))
	if err != nil {
		return nil, eris.Wrapf(err, "cache: subscribe to %s", subject)
	}
	return sub, nil
}

// Handler decodes an invalidation event and applies it to target. Malformed
// events are logged and dropped.
func Handler(target Invalidator) nats.MsgHandler {
	log := zap.L().With(zap.String("component", "cache"))
	return func(msg *nats.Msg) {
		if err := Apply(context.Background(), target, msg.Data); err != nil {
			log.Warn("dropping invalidation event",
				zap.String("subject", msg.Subject),
				zap.ByteString("data", msg.Data),
				zap.Error(err),
			)
		}
	}
}

// Apply decodes one event payload and applies it to target.
func Apply(ctx context.Context, target Invalidator, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return eris.Wrap(err, "cache: decode invalidation event")
	}
	switch ev.Scope {
	case ScopeAll:
		return target.InvalidateAll(ctx)
	case ScopeMonth:
		month, err := model.ParseMonth(ev.Month)
		if err != nil {
			return err
		}
		return target.InvalidateMonth(ctx, month)
	default:
		return eris.Errorf("cache: unknown invalidation scope %q", ev.Scope)
	}
}

// ConnectNATS dials a NATS server with reconnect handling logged through zap.
func ConnectNATS(url string) (*nats.Conn, error) {
	log := zap.L().With(zap.String("component", "nats"))
	nc, err := nats.Connect(url,
		nats.Name("saferoute"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("connection closed")
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: connect nats %s", url)
	}
	return nc, nil
}

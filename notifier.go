package tenantq

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Progress is the message published while a task runs.
type Progress struct {
	TaskID   string `json:"task_id"`
	TenantID string `json:"tenant_id"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	At       int64  `json:"at"`
}

// Notifier publishes progress on per-correlation channels scoped to a tenant.
type Notifier struct {
	f   *ConnFactory
	enc Encoder
}

// NewNotifier creates a notifier over the factory's client.
func NewNotifier(f *ConnFactory) *Notifier {
	return &Notifier{f: f, enc: &JSONEncoder{}}
}

// Publish sends p to subscribers of the tenant's correlation channel.
func (n *Notifier) Publish(ctx context.Context, tenantID, correlationID string, p Progress) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if correlationID == "" {
		return invalidf("correlation id required")
	}
	b, err := n.enc.Encode(p)
	if err != nil {
		return err
	}
	if err := n.f.rdb.Publish(ctx, n.f.keys.Progress(tenantID, correlationID), b).Err(); err != nil {
		return opErr("publish progress", p.TaskID, tenantID, err)
	}
	return nil
}

// Subscribe listens on the tenant's correlation channel. The caller must Close
// the returned PubSub.
func (n *Notifier) Subscribe(ctx context.Context, tenantID, correlationID string) (*redis.PubSub, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	ps := n.f.rdb.Subscribe(ctx, n.f.keys.Progress(tenantID, correlationID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, opErr("subscribe progress", "", tenantID, err)
	}
	return ps, nil
}

// DecodeProgress parses a message received from a Subscribe channel.
func (n *Notifier) DecodeProgress(msg *redis.Message) (Progress, error) {
	var p Progress
	err := n.enc.Decode([]byte(msg.Payload), &p)
	return p, err
}

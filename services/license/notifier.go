package license

//go:generate mockgen -source=notifier.go -destination=mock_notifier_test.go -package=license -exclude_interfaces=publisher

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

type EventType string

var (
	EventIssued           EventType = "license.issued"
	EventActivated        EventType = "license.activated"
	EventOfflineGenerated EventType = "license.offline_generated"
	EventRevoked          EventType = "license.revoked"
)

// Event never carries the offline file or any secret.
type Event struct {
	Type        EventType   `json:"type"`
	LicenseID   int64       `json:"license_id"`
	LicenseKey  string      `json:"license_key"`
	LicenseType LicenseType `json:"license_type"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Offline     bool        `json:"offline,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

func newEvent(t EventType, l *License, at time.Time) Event {
	e := Event{
		Type:        t,
		LicenseID:   l.ID,
		LicenseKey:  l.LicenseKey,
		LicenseType: l.Type,
		OccurredAt:  at,
	}
	if l.HardwareFingerprint != nil {
		e.Fingerprint = *l.HardwareFingerprint
	}
	return e
}

// Notifier delivers license events to an external channel. Delivery is best
// effort; callers log failures and carry on.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisNotifier struct {
	client  publisher
	channel string
}

type NotifierParams struct {
	fx.In
	Redis  *redis.Client `optional:"true"`
	Config *config.Config
}

func NewNotifier(p NotifierParams) Notifier {
	if p.Redis == nil {
		return NopNotifier{}
	}
	return newRedisNotifier(p.Redis, p.Config.License.EventChannel)
}

func newRedisNotifier(client publisher, channel string) *RedisNotifier {
	if channel == "" {
		channel = rediskey.LicenseEventsChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }

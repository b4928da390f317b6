package coordinate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fieldproof/pkg/utils"
)

// Coordinator arbitrates which app context may drain the delivery queue at a
// given moment. Claims are advisory: they cut duplicate work, they do not
// carry correctness. The remote store's dedup-by-id does.
type Coordinator interface {
	// AcquireDrainClaim tries to take the drain claim. ok=false means
	// another context holds it and the caller should skip this pass.
	AcquireDrainClaim(ctx context.Context) (release func(), ok bool, err error)
}

const (
	claimKey        = "fieldproof:claim:queue-drain"
	advisoryChannel = "fieldproof:queue-advisory"

	eventProcessingStarted  = "processing-started"
	eventProcessingFinished = "processing-finished"
)

// advisory is the payload published around claim acquire/release so other
// contexts can log or refresh their views.
type advisory struct {
	Event    string    `json:"event"`
	Owner    string    `json:"owner"`
	DeviceID string    `json:"deviceId"`
	At       time.Time `json:"at"`
}

// RedisCoordinator backs claims with a Redis SET-NX-with-TTL held under an
// owner token. The TTL bounds how long a crashed holder can block others.
type RedisCoordinator struct {
	rdb      *redis.Client
	owner    string
	deviceID string
	ttl      time.Duration
	log      *slog.Logger
}

func NewRedisCoordinator(rdb *redis.Client, deviceID string, ttl time.Duration, log *slog.Logger) *RedisCoordinator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisCoordinator{
		rdb:      rdb,
		owner:    uuid.NewString() + "/" + deviceID,
		deviceID: deviceID,
		ttl:      ttl,
		log:      log,
	}
}

func (c *RedisCoordinator) AcquireDrainClaim(ctx context.Context) (func(), bool, error) {
	ok, err := utils.AcquireClaim(ctx, c.rdb, claimKey, c.owner, c.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	c.publish(ctx, eventProcessingStarted)

	release := func() {
		// Release on a fresh context so shutdown cancellation doesn't
		// strand the claim until the TTL.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := utils.ReleaseClaim(rctx, c.rdb, claimKey, c.owner); err != nil {
			c.log.Warn("drain claim release failed, ttl will reap it", "error", err)
		}
		c.publish(rctx, eventProcessingFinished)
	}
	return release, true, nil
}

func (c *RedisCoordinator) publish(ctx context.Context, event string) {
	payload, err := json.Marshal(advisory{
		Event:    event,
		Owner:    c.owner,
		DeviceID: c.deviceID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.rdb.Publish(ctx, advisoryChannel, payload).Err(); err != nil {
		c.log.Debug("advisory publish failed", "event", event, "error", err)
	}
}

// Watch subscribes to peer advisories and invokes fn for each one until the
// context ends. Best effort; a broken subscription just ends the watch.
func (c *RedisCoordinator) Watch(ctx context.Context, fn func(advisory)) {
	sub := c.rdb.Subscribe(ctx, advisoryChannel)
	defer sub.Close()
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var adv advisory
		if err := json.Unmarshal([]byte(msg.Payload), &adv); err != nil {
			continue
		}
		if adv.Owner == c.owner {
			continue
		}
		fn(adv)
	}
}

// NoopCoordinator always grants. Used when Redis is unreachable or not
// configured: standalone contexts lose nothing, and double-sends from
// genuinely concurrent contexts are absorbed downstream by id dedup.
type NoopCoordinator struct{}

func (NoopCoordinator) AcquireDrainClaim(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// NewCoordinator probes Redis and degrades to NoopCoordinator when it does
// not answer. The agent must come up with zero connectivity.
func NewCoordinator(ctx context.Context, rdb *redis.Client, deviceID string, ttl time.Duration, log *slog.Logger) Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if rdb == nil {
		log.Info("coordination disabled, running uncoordinated")
		return NoopCoordinator{}
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		log.Warn("redis unreachable, running uncoordinated", "error", err)
		return NoopCoordinator{}
	}
	return NewRedisCoordinator(rdb, deviceID, ttl, log)
}

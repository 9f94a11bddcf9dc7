package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careops/clinic-cache/internal/coordinator"
	"github.com/careops/clinic-cache/internal/entity"
)

// entityChangedChannel carries "kind:id" messages for external entity writes.
const entityChangedChannel = "clinic:entities:changed"

func NewRedisClient(addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// SlotReserver serializes slot ownership through a per-slot Redis key. The
// key holds the reserving patient's id, so a lost race is distinguishable
// from a re-reservation by the same patient.
type SlotReserver struct {
	client *redis.Client
}

func NewSlotReserver(client *redis.Client) *SlotReserver {
	return &SlotReserver{client: client}
}

func slotResvKey(doctorID string, slot time.Time) string {
	return "resv:slot:" + entity.SlotKey(doctorID, slot)
}

// Reserve claims the slot for the patient. A slot held by another patient is
// a conflict; one already held by the same patient is treated as an
// idempotent success.
func (r *SlotReserver) Reserve(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	key := slotResvKey(doctorID, slot)

	ok, err := r.client.SetNX(ctx, key, patientID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if ok {
		return nil
	}

	holder, err := r.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check slot holder: %w", err)
	}
	if holder == patientID {
		return nil
	}
	return coordinator.ErrSlotConflict
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release frees the slot only if the given patient still holds it.
func (r *SlotReserver) Release(ctx context.Context, doctorID string, slot time.Time, patientID string) error {
	key := slotResvKey(doctorID, slot)
	_, err := releaseScript.Run(ctx, r.client, []string{key}, patientID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// NotificationPublisher fans notifications out over per-recipient Redis
// channels that live UI sessions subscribe to.
type NotificationPublisher struct {
	client *redis.Client
}

func NewNotificationPublisher(client *redis.Client) *NotificationPublisher {
	return &NotificationPublisher{client: client}
}

func (p *NotificationPublisher) PublishNotification(ctx context.Context, item entity.NotificationItem) error {
	payload, err := json.Marshal(map[string]string{
		"id":        item.ID,
		"recipient": item.RecipientID,
		"role":      string(item.RecipientRole),
		"kind":      string(item.Kind),
		"message":   item.Message,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := p.client.Publish(ctx, "clinic:notify:"+item.RecipientID, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// PublishEntityChange announces an external entity write to all subscribed
// coordinator instances.
func PublishEntityChange(ctx context.Context, client *redis.Client, kind entity.Kind, id string) error {
	if err := client.Publish(ctx, entityChangedChannel, string(kind)+":"+id).Err(); err != nil {
		return fmt.Errorf("publish entity change: %w", err)
	}
	return nil
}

// subscribeEntityChanges feeds pub/sub messages to fn until ctx is done.
func subscribeEntityChanges(ctx context.Context, client *redis.Client, fn coordinator.EntityChangedFunc) {
	sub := client.Subscribe(ctx, entityChangedChannel)
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				kind, id, found := strings.Cut(msg.Payload, ":")
				if !found {
					continue
				}
				fn(entity.Kind(kind), id)
			}
		}
	}()
}

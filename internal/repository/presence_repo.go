package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deividyBarbosa/Transcend-sub001/internal/models"
)

// PresenceRepository keeps ephemeral presence records in a Redis hash per
// channel key. Nothing here is durable: the hash TTL is refreshed on every
// write and records disappear when producers stop refreshing.
type PresenceRepository struct {
	client *redis.Client
}

func NewPresenceRepository(client *redis.Client) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(channelKey string) string {
	return "presenca:estado:" + channelKey
}

func (r *PresenceRepository) Set(
	ctx context.Context,
	channelKey string,
	record models.PresenceRecord,
	ttl time.Duration,
) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := presenceKey(channelKey)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(record.UserID, 10), payload)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *PresenceRepository) Clear(ctx context.Context, channelKey string, userID int64) error {
	return r.client.HDel(ctx, presenceKey(channelKey), strconv.FormatInt(userID, 10)).Err()
}

// Snapshot returns the full current state of a presence channel. Corrupt
// fields are skipped rather than failing the whole read.
func (r *PresenceRepository) Snapshot(ctx context.Context, channelKey string) (models.PresenceSnapshot, error) {
	fields, err := r.client.HGetAll(ctx, presenceKey(channelKey)).Result()
	if err != nil {
		return nil, err
	}

	snapshot := make(models.PresenceSnapshot, len(fields))
	for field, value := range fields {
		userID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var record models.PresenceRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			continue
		}
		snapshot[userID] = append(snapshot[userID], record)
	}

	return snapshot, nil
}

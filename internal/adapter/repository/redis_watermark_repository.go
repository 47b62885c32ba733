package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/redis/go-redis/v9"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

const watermarkAdvanceAttempts = 3

// redisWatermarkRepository keeps watermarks as JSON under
// <prefix>:watermark:<user>. Advance uses WATCH so concurrent writers never
// move a watermark backwards.
type redisWatermarkRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisWatermarkRepository(client *redis.Client, prefix string) repository.WatermarkRepository {
	if prefix == "" {
		prefix = "tradeup"
	}
	return &redisWatermarkRepository{client: client, prefix: prefix}
}

func (r *redisWatermarkRepository) key(userID string) string {
	return r.prefix + ":watermark:" + userID
}

func (r *redisWatermarkRepository) Get(ctx context.Context, userID string) (*entity.Watermark, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, redisError("get watermark", err)
	}
	var wm entity.Watermark
	if err := json.Unmarshal(raw, &wm); err != nil {
		return nil, errors.Internal("Failed to parse watermark data", err)
	}
	return &wm, nil
}

func (r *redisWatermarkRepository) Advance(ctx context.Context, wm *entity.Watermark) error {
	key := r.key(wm.UserID)
	payload, err := json.Marshal(wm)
	if err != nil {
		return errors.Internal("Failed to encode watermark", err)
	}

	advance := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var current entity.Watermark
			if err := json.Unmarshal(raw, &current); err == nil && !current.Behind(wm) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < watermarkAdvanceAttempts; attempt++ {
		err = r.client.Watch(ctx, advance, key)
		if !stderrors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return redisError("advance watermark", err)
	}
	return nil
}

// redisError treats every Redis failure as transient.
func redisError(op string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.FromRemote(op, err)
	}
	return errors.RemoteUnavailable(op+" failed", err)
}

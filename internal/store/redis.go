package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/store/config"
)

const (
	defaultRedisKey = "crops"
	redisLockTTL    = 5 * time.Second
)

// redisStore хранит всю коллекцию одним JSON-документом под одним ключом,
// как это делал браузерный localStorage. Запись идет под распределенной блокировкой,
// поэтому read-modify-write всей коллекции не теряет чужие изменения.
type redisStore struct {
	client  *redis.Client
	locker  *redislock.Client
	key     string
	lockKey string
}

func NewRedisStore(cfg config.Config) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, err
	}

	key := cfg.RedisKey
	if key == "" {
		key = defaultRedisKey
	}

	return &redisStore{
		client:  client,
		locker:  redislock.New(client),
		key:     key,
		lockKey: "lock:" + key,
	}, nil
}

func (store *redisStore) load(ctx context.Context) ([]model.CropRecord, error) {
	data, err := store.client.Get(ctx, store.key).Bytes()
	if err != nil {
		// нет ключа - пустая коллекция
		if errors.Is(err, redis.Nil) {
			return []model.CropRecord{}, nil
		}
		return nil, err
	}

	recs := []model.CropRecord{}
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrMalformed, store.key, err)
	}
	return recs, nil
}

func (store *redisStore) save(ctx context.Context, recs []model.CropRecord) error {
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return store.client.Set(ctx, store.key, data, 0).Err()
}

// modify выполняет fn над коллекцией под блокировкой и сохраняет результат.
func (store *redisStore) modify(ctx context.Context, fn func([]model.CropRecord) ([]model.CropRecord, error)) error {
	lock, err := store.locker.Obtain(ctx, store.lockKey, redisLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	})
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", store.lockKey, err)
	}
	defer func() {
		// блокировку снимаем и после отмены запроса, иначе ключ занят до истечения TTL
		_ = lock.Release(context.WithoutCancel(ctx))
	}()

	recs, err := store.load(ctx)
	if err != nil {
		return err
	}
	recs, err = fn(recs)
	if err != nil {
		return err
	}
	return store.save(ctx, recs)
}

func (store *redisStore) CropPost(ctx context.Context, rec model.CropRecord) (model.CropRecord, error) {
	err := store.modify(ctx, func(recs []model.CropRecord) ([]model.CropRecord, error) {
		for _, stored := range recs {
			if stored.ID == rec.ID {
				return nil, ErrAlreadyExists
			}
		}
		rec.Seq = len(recs) + 1
		rec.Version = 1
		return append(recs, rec), nil
	})
	if err != nil {
		return model.CropRecord{}, err
	}
	return rec, nil
}

func (store *redisStore) CropGet(ctx context.Context, id string) (model.CropRecord, error) {
	recs, err := store.load(ctx)
	if err != nil {
		return model.CropRecord{}, err
	}
	for _, rec := range recs {
		if rec.ID == id {
			return rec, nil
		}
	}
	return model.CropRecord{}, ErrNoRows
}

func (store *redisStore) CropGetBySeq(ctx context.Context, seq int) (model.CropRecord, error) {
	recs, err := store.load(ctx)
	if err != nil {
		return model.CropRecord{}, err
	}
	for _, rec := range recs {
		if rec.Seq == seq {
			return rec, nil
		}
	}
	return model.CropRecord{}, ErrNoRows
}

func (store *redisStore) CropGetAll(ctx context.Context) ([]model.CropRecord, error) {
	return store.load(ctx)
}

func (store *redisStore) CropPut(ctx context.Context, rec model.CropRecord) (model.CropRecord, error) {
	var updated model.CropRecord
	err := store.modify(ctx, func(recs []model.CropRecord) ([]model.CropRecord, error) {
		for i, stored := range recs {
			if stored.ID != rec.ID {
				continue
			}
			var err error
			updated, err = applyUpdate(stored, rec)
			if err != nil {
				return nil, err
			}
			recs[i] = updated
			return recs, nil
		}
		return nil, ErrNoRows
	})
	if err != nil {
		return model.CropRecord{}, err
	}
	return updated, nil
}

func (store *redisStore) Close() error {
	return store.client.Close()
}

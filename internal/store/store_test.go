package store

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/store/config"
)

func newCrop(name string) model.CropRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return model.CropRecord{
		ID:         uuid.NewString(),
		CropName:   name,
		QuantityKg: "100",
		PricePerKg: "20",
		ListedDate: now.Format(model.ListedDateLayout),
		ListedTime: now.Format(model.ListedTimeLayout),
		ListedAt:   now,
	}
}

// testStores возвращает хранилища, доступные в окружении.
// Память есть всегда, PostgreSQL и Redis - при заданных переменных окружения.
func testStores(t *testing.T) map[string]Store {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
	}

	if dsn := os.Getenv("TEST_DATABASE_URI"); dsn != "" {
		store, err := NewStore(config.Config{DBDsn: dsn})
		require.NoError(t, err)
		stores["postgres"] = store
	}
	if addr := os.Getenv("TEST_REDIS_ADDRESS"); addr != "" {
		store, err := NewStore(config.Config{RedisAddr: addr, RedisKey: "test:crops:" + uuid.NewString()})
		require.NoError(t, err)
		stores["redis"] = store
	}

	t.Cleanup(func() {
		for _, store := range stores {
			store.Close()
		}
	})
	return stores
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	store, err := NewStore(config.Config{})
	require.NoError(t, err)
	require.IsType(t, &memoryStore{}, store)
}

func TestStoreCrop(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			start, err := store.CropGetAll(ctx)
			require.NoError(t, err)

			// Создание партии
			crop := newCrop("Wheat")
			posted, err := store.CropPost(ctx, crop)
			require.NoError(t, err)
			require.Equal(t, 1, posted.Version)
			require.Positive(t, posted.Seq)

			// Повторное создание
			_, err = store.CropPost(ctx, crop)
			require.ErrorIs(t, err, ErrAlreadyExists)

			// Чтение партии
			got, err := store.CropGet(ctx, crop.ID)
			require.NoError(t, err)
			require.True(t, posted.ListedAt.Equal(got.ListedAt))
			got.ListedAt = posted.ListedAt
			require.Equal(t, posted, got)

			bySeq, err := store.CropGetBySeq(ctx, posted.Seq)
			require.NoError(t, err)
			require.Equal(t, posted.ID, bySeq.ID)

			all, err := store.CropGetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, len(start)+1)

			// Обновление партии
			got.TransporterPicked = true
			updated, err := store.CropPut(ctx, got)
			require.NoError(t, err)
			require.True(t, updated.TransporterPicked)
			require.Equal(t, 2, updated.Version)

			// Устаревшая версия
			_, err = store.CropPut(ctx, got)
			require.ErrorIs(t, err, ErrVersionConflict)

			// Неизменяемые поля не перезаписываются
			updated.CropName = "Rye"
			updated, err = store.CropPut(ctx, updated)
			require.NoError(t, err)
			require.Equal(t, "Wheat", updated.CropName)
			require.Equal(t, 3, updated.Version)

			all, err = store.CropGetAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, len(start)+1)
		})
	}
}

func TestStoreNoRows(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.CropGet(ctx, uuid.NewString())
			require.ErrorIs(t, err, ErrNoRows)

			_, err = store.CropGetBySeq(ctx, 1_000_000)
			require.ErrorIs(t, err, ErrNoRows)

			missing := newCrop("Barley")
			missing.Version = 1
			_, err = store.CropPut(ctx, missing)
			require.ErrorIs(t, err, ErrNoRows)
		})
	}
}

func TestStoreLongValues(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// длина полей нигде не ограничена
			crop := newCrop(strings.Repeat("Wheat", 60))
			crop.ID = "legacy-" + strings.Repeat("7", 60)
			crop.QuantityKg = strings.Repeat("1", 40)
			crop.PricePerKg = strings.Repeat("2", 40)
			posted, err := store.CropPost(ctx, crop)
			require.NoError(t, err)

			posted.TransporterPicked = true
			posted.RetailerPicked = true
			posted.Paid = true
			posted.Buyer = strings.Repeat("Consumer", 20)
			updated, err := store.CropPut(ctx, posted)
			require.NoError(t, err)
			require.Equal(t, posted.Buyer, updated.Buyer)

			got, err := store.CropGet(ctx, crop.ID)
			require.NoError(t, err)
			require.Equal(t, crop.CropName, got.CropName)
			require.Equal(t, crop.QuantityKg, got.QuantityKg)
			require.Equal(t, posted.Buyer, got.Buyer)
		})
	}
}

func TestStoreConcurrentPut(t *testing.T) {
	const writers = 8

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			posted, err := store.CropPost(ctx, newCrop("Maize"))
			require.NoError(t, err)

			// все пишут с одной и той же версией: выигрывает ровно один
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec := posted
					rec.TransporterPicked = true
					_, err := store.CropPut(ctx, rec)
					mu.Lock()
					defer mu.Unlock()
					switch err {
					case nil:
						succeeded++
					case ErrVersionConflict:
						conflicts++
					}
				}()
			}
			wg.Wait()

			require.Equal(t, 1, succeeded)
			require.Equal(t, writers-1, conflicts)

			got, err := store.CropGet(ctx, posted.ID)
			require.NoError(t, err)
			require.Equal(t, 2, got.Version)
		})
	}
}

func TestMemoryStoreEmpty(t *testing.T) {
	recs, err := NewMemoryStore().CropGetAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, recs)
	require.Empty(t, recs)
}

func TestRedisStoreReleasesLockAfterCancel(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS is not set")
	}
	st, err := NewRedisStore(config.Config{RedisAddr: addr, RedisKey: "test:crops:" + uuid.NewString()})
	require.NoError(t, err)
	defer st.Close()
	rs := st.(*redisStore)

	// запрос отменен, пока блокировка удерживается
	ctx, cancel := context.WithCancel(context.Background())
	err = rs.modify(ctx, func(recs []model.CropRecord) ([]model.CropRecord, error) {
		cancel()
		return nil, context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	start := time.Now()
	_, err = st.CropPost(context.Background(), newCrop("Wheat"))
	require.NoError(t, err)
	require.Less(t, time.Since(start), redisLockTTL/2)
}

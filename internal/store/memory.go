package store

import (
	"context"
	"sync"

	"github.com/iurnickita/cropchain/internal/model"
)

type memoryStore struct {
	mu    sync.RWMutex
	byID  map[string]model.CropRecord
	order []string
}

func NewMemoryStore() Store {
	return &memoryStore{
		byID: make(map[string]model.CropRecord),
	}
}

func (store *memoryStore) CropPost(_ context.Context, rec model.CropRecord) (model.CropRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.byID[rec.ID]; ok {
		return model.CropRecord{}, ErrAlreadyExists
	}
	rec.Seq = len(store.order) + 1
	rec.Version = 1
	store.byID[rec.ID] = rec
	store.order = append(store.order, rec.ID)
	return rec, nil
}

func (store *memoryStore) CropGet(_ context.Context, id string) (model.CropRecord, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	rec, ok := store.byID[id]
	if !ok {
		return model.CropRecord{}, ErrNoRows
	}
	return rec, nil
}

func (store *memoryStore) CropGetBySeq(_ context.Context, seq int) (model.CropRecord, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	// записи не удаляются, поэтому seq совпадает с позицией
	if seq < 1 || seq > len(store.order) {
		return model.CropRecord{}, ErrNoRows
	}
	return store.byID[store.order[seq-1]], nil
}

func (store *memoryStore) CropGetAll(_ context.Context) ([]model.CropRecord, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	recs := make([]model.CropRecord, 0, len(store.order))
	for _, id := range store.order {
		recs = append(recs, store.byID[id])
	}
	return recs, nil
}

func (store *memoryStore) CropPut(_ context.Context, rec model.CropRecord) (model.CropRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	stored, ok := store.byID[rec.ID]
	if !ok {
		return model.CropRecord{}, ErrNoRows
	}
	updated, err := applyUpdate(stored, rec)
	if err != nil {
		return model.CropRecord{}, err
	}
	store.byID[rec.ID] = updated
	return updated, nil
}

func (store *memoryStore) Close() error {
	return nil
}

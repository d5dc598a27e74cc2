package store

import (
	"context"
	"errors"

	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/store/config"
)

type Store interface {
	CropPost(ctx context.Context, rec model.CropRecord) (model.CropRecord, error)
	CropGet(ctx context.Context, id string) (model.CropRecord, error)
	CropGetBySeq(ctx context.Context, seq int) (model.CropRecord, error)
	CropGetAll(ctx context.Context) ([]model.CropRecord, error)
	CropPut(ctx context.Context, rec model.CropRecord) (model.CropRecord, error)
	Close() error
}

var (
	ErrNoRows          = errors.New("no rows")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
	ErrMalformed       = errors.New("malformed stored data")
)

// NewStore выбирает хранилище по конфигурации:
// PostgreSQL, если задан DSN, иначе Redis, иначе память.
func NewStore(cfg config.Config) (Store, error) {
	switch {
	case cfg.DBDsn != "":
		return NewPostgresStore(cfg)
	case cfg.RedisAddr != "":
		return NewRedisStore(cfg)
	default:
		return NewMemoryStore(), nil
	}
}

// applyUpdate переносит изменяемые поля rec в сохраненную запись и увеличивает версию.
// Идентичность, описание и дата листинга не меняются никогда.
func applyUpdate(stored model.CropRecord, rec model.CropRecord) (model.CropRecord, error) {
	if stored.Version != rec.Version {
		return model.CropRecord{}, ErrVersionConflict
	}
	stored.TransporterPicked = rec.TransporterPicked
	stored.RetailerPicked = rec.RetailerPicked
	stored.Paid = rec.Paid
	stored.Buyer = rec.Buyer
	stored.WalletID = rec.WalletID
	stored.TxHash = rec.TxHash
	stored.Version++
	return stored, nil
}

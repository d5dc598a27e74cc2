package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/pipeline"
	"github.com/iurnickita/cropchain/internal/service/config"
	"github.com/iurnickita/cropchain/internal/service/walletclient"
	"github.com/iurnickita/cropchain/internal/store"
)

type Service interface {
	CreateCrop(ctx context.Context, input CropInput) (model.CropRecord, error)
	ListCrops(ctx context.Context, role model.Role) ([]model.CropRecord, error)
	GetCrop(ctx context.Context, id string) (model.CropRecord, error)
	GetCropByLot(ctx context.Context, lot int) (model.CropRecord, error)
	ToggleTransporter(ctx context.Context, id string, version int) (model.CropRecord, error)
	ToggleRetailer(ctx context.Context, id string, version int) (model.CropRecord, error)
	Pay(ctx context.Context, id string, buyer string, version int) (model.CropRecord, error)
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, document []byte) (ImportResult, error)
	ConnectWallet(ctx context.Context) (string, error)
}

var (
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUnprocessableEntity = errors.New("unprocessable entity")
	ErrNotFound            = errors.New("not found")
	ErrOutOfOrder          = errors.New("out of pipeline order")
	ErrConflict            = errors.New("record was modified concurrently")
	ErrUnknownRole         = errors.New("unknown role")
	ErrWalletNotDetected   = errors.New("wallet not detected")
)

const DefaultBuyer = "Consumer_001"

// Форма добавления партии
type CropInput struct {
	Crop     string `json:"crop" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
	Price    string `json:"price" validate:"required"`
	Quality  string `json:"quality" validate:"omitempty,oneof=Premium Standard Organic"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type service struct {
	cfg      config.Config
	store    store.Store
	wallet   walletclient.WalletClient
	validate *validator.Validate
	zaplog   *zap.Logger

	now    func() time.Time
	random io.Reader
}

func NewService(cfg config.Config, store store.Store, zaplog *zap.Logger) (Service, error) {
	if cfg.UpdateRetries < 0 {
		return nil, fmt.Errorf("update retries must not be negative: %d", cfg.UpdateRetries)
	}

	service := service{
		cfg:      cfg,
		store:    store,
		wallet:   walletclient.NewWalletClient(cfg.WalletAddr),
		validate: validator.New(),
		zaplog:   zaplog,
		now:      time.Now,
	}

	return &service, nil
}

func (service *service) CreateCrop(ctx context.Context, input CropInput) (model.CropRecord, error) {
	input.Crop = strings.TrimSpace(input.Crop)
	input.Quantity = strings.TrimSpace(input.Quantity)
	input.Price = strings.TrimSpace(input.Price)

	if err := service.validateInput(input); err != nil {
		return model.CropRecord{}, err
	}

	now := service.now()
	rec := model.CropRecord{
		ID:         uuid.NewString(),
		CropName:   input.Crop,
		QuantityKg: input.Quantity,
		PricePerKg: input.Price,
		Quality:    input.Quality,
		ListedDate: now.Format(model.ListedDateLayout),
		ListedTime: now.Format(model.ListedTimeLayout),
		ListedAt:   now,
	}

	rec, err := service.store.CropPost(ctx, rec)
	if err != nil {
		return model.CropRecord{}, err
	}

	service.zaplog.Info("crop listed",
		zap.String("id", rec.ID),
		zap.Int("lot", rec.LotNumber()),
		zap.String("crop", rec.CropName),
	)
	return rec, nil
}

func (service *service) validateInput(input CropInput) error {
	err := service.validate.Struct(input)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	target := ErrUnprocessableEntity
	var fields []string
	for _, ve := range validationErrors {
		if ve.Tag() == "required" {
			target = ErrInsufficientData
		}
		fields = append(fields, strings.ToLower(ve.Field())+":"+ve.Tag())
	}
	return fmt.Errorf("%w: %s", target, strings.Join(fields, ", "))
}

func (service *service) ListCrops(ctx context.Context, role model.Role) ([]model.CropRecord, error) {
	if _, ok := model.ParseRole(string(role)); !ok {
		return nil, ErrUnknownRole
	}

	recs, err := service.store.CropGetAll(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.Filter(role, recs), nil
}

func (service *service) GetCrop(ctx context.Context, id string) (model.CropRecord, error) {
	if id == "" {
		return model.CropRecord{}, ErrInsufficientData
	}

	rec, err := service.store.CropGet(ctx, id)
	if err != nil {
		if err == store.ErrNoRows {
			return model.CropRecord{}, ErrNotFound
		}
		return model.CropRecord{}, err
	}
	return rec, nil
}

func (service *service) GetCropByLot(ctx context.Context, lot int) (model.CropRecord, error) {
	// Проверка по алгоритму Луна
	seq, ok := model.SeqFromLot(lot)
	if !ok {
		return model.CropRecord{}, ErrUnprocessableEntity
	}

	rec, err := service.store.CropGetBySeq(ctx, seq)
	if err != nil {
		if err == store.ErrNoRows {
			return model.CropRecord{}, ErrNotFound
		}
		return model.CropRecord{}, err
	}
	return rec, nil
}

func (service *service) ToggleTransporter(ctx context.Context, id string, version int) (model.CropRecord, error) {
	return service.update(ctx, id, version, func(rec model.CropRecord) (model.CropRecord, bool, error) {
		rec, err := pipeline.ToggleTransporter(rec)
		return rec, err == nil, err
	})
}

func (service *service) ToggleRetailer(ctx context.Context, id string, version int) (model.CropRecord, error) {
	return service.update(ctx, id, version, func(rec model.CropRecord) (model.CropRecord, bool, error) {
		rec, err := pipeline.ToggleRetailer(rec)
		return rec, err == nil, err
	})
}

func (service *service) Pay(ctx context.Context, id string, buyer string, version int) (model.CropRecord, error) {
	if buyer == "" {
		buyer = DefaultBuyer
	}
	return service.update(ctx, id, version, func(rec model.CropRecord) (model.CropRecord, bool, error) {
		return pipeline.Pay(rec, buyer, service.random)
	})
}

type transition func(rec model.CropRecord) (next model.CropRecord, changed bool, err error)

// update - read-modify-write одной записи.
// version == 0: при конфликте версий запись перечитывается и переход применяется заново.
// version != 0: запись должна иметь именно эту версию, иначе ErrConflict.
// Переход без изменений (повторная оплата) возвращает запись при любой версии.
func (service *service) update(ctx context.Context, id string, version int, apply transition) (model.CropRecord, error) {
	if id == "" {
		return model.CropRecord{}, ErrInsufficientData
	}

	attempts := service.cfg.UpdateRetries + 1
	if version != 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		rec, err := service.GetCrop(ctx, id)
		if err != nil {
			return model.CropRecord{}, err
		}

		next, changed, err := apply(rec)
		if err == nil && !changed {
			return rec, nil
		}
		if version != 0 && rec.Version != version {
			return model.CropRecord{}, ErrConflict
		}
		if err != nil {
			if errors.Is(err, pipeline.ErrOutOfOrder) {
				return model.CropRecord{}, fmt.Errorf("%w: crop %s is %s", ErrOutOfOrder, rec.ID, rec.Stage())
			}
			return model.CropRecord{}, err
		}

		updated, err := service.store.CropPut(ctx, next)
		switch err {
		case nil:
			service.zaplog.Info("crop stage changed",
				zap.String("id", updated.ID),
				zap.String("from", string(rec.Stage())),
				zap.String("to", string(updated.Stage())),
				zap.Int("version", updated.Version),
			)
			return updated, nil
		case store.ErrVersionConflict:
			if attempt >= attempts {
				return model.CropRecord{}, ErrConflict
			}
			service.zaplog.Debug("crop version conflict, retrying",
				zap.String("id", id),
				zap.Int("attempt", attempt),
			)
		case store.ErrNoRows:
			return model.CropRecord{}, ErrNotFound
		default:
			return model.CropRecord{}, err
		}
	}
}

func (service *service) Export(ctx context.Context) ([]byte, error) {
	recs, err := service.store.CropGetAll(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recs)
}

// Import загружает документ в формате браузерного хранилища (JSON-массив партий).
// Некорректные элементы пропускаются, документ целиком не отвергается.
// Флаги стадий переносятся как есть, даже если нарушают порядок конвейера.
// При ошибке хранилища возвращается частичный результат вместе с ошибкой.
func (service *service) Import(ctx context.Context, document []byte) (ImportResult, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(document, &entries); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrUnprocessableEntity, err)
	}

	var result ImportResult
	for i, entry := range entries {
		rec, err := service.legacyRecord(entry)
		if err == nil {
			_, err = service.store.CropPost(ctx, rec)
		}
		switch {
		case err == nil:
			result.Imported++
			// старое приложение позволяло снять отметку перевозчика после розницы
			if !pipeline.Consistent(rec) {
				service.zaplog.Warn("imported crop flags out of pipeline order",
					zap.Int("index", i),
					zap.String("id", rec.ID),
					zap.Bool("transporterPicked", rec.TransporterPicked),
					zap.Bool("retailerPicked", rec.RetailerPicked),
					zap.Bool("paid", rec.Paid),
				)
			}
		case errors.Is(err, ErrUnprocessableEntity), err == store.ErrAlreadyExists:
			result.Skipped++
			service.zaplog.Warn("import entry skipped",
				zap.Int("index", i),
				zap.Error(err),
			)
		default:
			// уже записанные элементы остаются, счетчики возвращаются вместе с ошибкой
			return result, fmt.Errorf("import interrupted at entry %d: %w", i, err)
		}
	}

	service.zaplog.Info("crops imported",
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (service *service) legacyRecord(entry json.RawMessage) (model.CropRecord, error) {
	var rec model.CropRecord
	if err := json.Unmarshal(entry, &rec); err != nil {
		return model.CropRecord{}, fmt.Errorf("%w: %v", ErrUnprocessableEntity, err)
	}
	if rec.ID == "" || strings.TrimSpace(rec.CropName) == "" {
		return model.CropRecord{}, fmt.Errorf("%w: id and crop are required", ErrUnprocessableEntity)
	}

	if rec.ListedAt.IsZero() {
		rec.ListedAt = service.now()
	}
	if rec.ListedDate == "" {
		rec.ListedDate = rec.ListedAt.Format(model.ListedDateLayout)
	}
	if rec.ListedTime == "" {
		rec.ListedTime = rec.ListedAt.Format(model.ListedTimeLayout)
	}
	if rec.Paid && rec.TxHash == "" {
		digest, err := pipeline.Digest(rec)
		if err != nil {
			return model.CropRecord{}, err
		}
		rec.TxHash = digest
	}
	return rec, nil
}

func (service *service) ConnectWallet(ctx context.Context) (string, error) {
	account, err := service.wallet.Connect(ctx)
	if err != nil {
		if errors.Is(err, walletclient.ErrNotDetected) {
			return "", ErrWalletNotDetected
		}
		service.zaplog.Warn("wallet connection failed", zap.Error(err))
		return "", err
	}
	return account, nil
}

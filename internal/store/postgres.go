package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/cropchain/internal/model"
	"github.com/iurnickita/cropchain/internal/store/config"
)

type postgresStore struct {
	database *sql.DB
}

const cropColumns = "id, seq, crop, quantity, price, quality, listed_date, listed_time, listed_at," +
	" transporter_picked, retailer_picked, paid, buyer, wallet_id, tx_hash, version"

func NewPostgresStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица партий урожая.
	// Одна строка на партию, дальше меняются только флаги стадий.
	// version - оптимистическая блокировка на уровне записи.
	// Длина полей не ограничивается, как и в остальных хранилищах
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS crop_record (" +
			" id TEXT PRIMARY KEY," +
			" seq SERIAL UNIQUE," +
			" crop TEXT NOT NULL," +
			" quantity TEXT NOT NULL," +
			" price TEXT NOT NULL," +
			" quality TEXT NOT NULL DEFAULT ''," +
			" listed_date TEXT NOT NULL," +
			" listed_time TEXT NOT NULL," +
			" listed_at TIMESTAMPTZ NOT NULL," +
			" transporter_picked BOOLEAN NOT NULL DEFAULT FALSE," +
			" retailer_picked BOOLEAN NOT NULL DEFAULT FALSE," +
			" paid BOOLEAN NOT NULL DEFAULT FALSE," +
			" buyer TEXT NOT NULL DEFAULT ''," +
			" wallet_id TEXT NOT NULL DEFAULT ''," +
			" tx_hash TEXT NOT NULL DEFAULT ''," +
			" version INTEGER NOT NULL" +
			" );")
	if err != nil {
		db.Close()
		return nil, err
	}

	// таблицы прежних версий с VARCHAR-колонками
	_, err = db.Exec(
		"ALTER TABLE crop_record" +
			" ALTER COLUMN id TYPE TEXT," +
			" ALTER COLUMN crop TYPE TEXT," +
			" ALTER COLUMN quantity TYPE TEXT," +
			" ALTER COLUMN price TYPE TEXT," +
			" ALTER COLUMN quality TYPE TEXT," +
			" ALTER COLUMN listed_date TYPE TEXT," +
			" ALTER COLUMN listed_time TYPE TEXT," +
			" ALTER COLUMN buyer TYPE TEXT," +
			" ALTER COLUMN wallet_id TYPE TEXT," +
			" ALTER COLUMN tx_hash TYPE TEXT;")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &postgresStore{
		database: db,
	}, nil
}

func (store *postgresStore) CropPost(ctx context.Context, rec model.CropRecord) (model.CropRecord, error) {
	rec.Version = 1

	//Запись новой партии
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO crop_record (id, crop, quantity, price, quality, listed_date, listed_time, listed_at,"+
			" transporter_picked, retailer_picked, paid, buyer, wallet_id, tx_hash, version)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)"+
			" RETURNING seq",
		rec.ID,
		rec.CropName,
		rec.QuantityKg,
		rec.PricePerKg,
		rec.Quality,
		rec.ListedDate,
		rec.ListedTime,
		rec.ListedAt,
		rec.TransporterPicked,
		rec.RetailerPicked,
		rec.Paid,
		rec.Buyer,
		rec.WalletID,
		rec.TxHash,
		rec.Version)
	err := row.Scan(&rec.Seq)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return model.CropRecord{}, ErrAlreadyExists
			}
		}
		return model.CropRecord{}, err
	}
	return rec, nil
}

func (store *postgresStore) CropGet(ctx context.Context, id string) (model.CropRecord, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+cropColumns+
			" FROM crop_record"+
			" WHERE id = $1",
		id)
	return scanCrop(row)
}

func (store *postgresStore) CropGetBySeq(ctx context.Context, seq int) (model.CropRecord, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+cropColumns+
			" FROM crop_record"+
			" WHERE seq = $1",
		seq)
	return scanCrop(row)
}

func (store *postgresStore) CropGetAll(ctx context.Context) ([]model.CropRecord, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+cropColumns+
			" FROM crop_record"+
			" ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := []model.CropRecord{}
	for rows.Next() {
		rec, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func (store *postgresStore) CropPut(ctx context.Context, rec model.CropRecord) (model.CropRecord, error) {
	//Обновление стадии партии, только если версия не изменилась
	row := store.database.QueryRowContext(ctx,
		"UPDATE crop_record"+
			" SET transporter_picked = $1,"+
			"     retailer_picked = $2,"+
			"     paid = $3,"+
			"     buyer = $4,"+
			"     wallet_id = $5,"+
			"     tx_hash = $6,"+
			"     version = version + 1"+
			" WHERE id = $7"+
			"   AND version = $8"+
			" RETURNING "+cropColumns,
		rec.TransporterPicked,
		rec.RetailerPicked,
		rec.Paid,
		rec.Buyer,
		rec.WalletID,
		rec.TxHash,
		rec.ID,
		rec.Version)
	updated, err := scanCrop(row)
	if err == nil {
		return updated, nil
	}
	if err != ErrNoRows {
		return model.CropRecord{}, err
	}

	// ничего не обновлено: записи нет или версия устарела
	if _, err := store.CropGet(ctx, rec.ID); err != nil {
		return model.CropRecord{}, err
	}
	return model.CropRecord{}, ErrVersionConflict
}

func (store *postgresStore) Close() error {
	return store.database.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCrop(row scanner) (model.CropRecord, error) {
	var rec model.CropRecord
	err := row.Scan(&rec.ID,
		&rec.Seq,
		&rec.CropName,
		&rec.QuantityKg,
		&rec.PricePerKg,
		&rec.Quality,
		&rec.ListedDate,
		&rec.ListedTime,
		&rec.ListedAt,
		&rec.TransporterPicked,
		&rec.RetailerPicked,
		&rec.Paid,
		&rec.Buyer,
		&rec.WalletID,
		&rec.TxHash,
		&rec.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.CropRecord{}, ErrNoRows
		}
		return model.CropRecord{}, err
	}
	return rec, nil
}

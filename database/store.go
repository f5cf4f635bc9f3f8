package database

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poll-ledger-backend/ledger"
)

// Record is one row of ledger_records.
type Record struct {
	Address   string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"size:32;not null;index:idx_ledger_records_kind"`
	Data      []byte `gorm:"not null"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Record) TableName() string {
	return "ledger_records"
}

// Store keeps ledger records in a SQL table. Rows read inside Update are
// locked with SELECT ... FOR UPDATE where the dialect supports it, and every
// write is checked against the version it read.
type Store struct {
	db        *gorm.DB
	forUpdate bool
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, forUpdate: db.Dialector.Name() != "sqlite"}
}

func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		btx := ledger.NewBufferedTx(s.fetcher(tx, s.forUpdate), false)
		if err := fn(btx); err != nil {
			return err
		}
		return s.flush(tx, btx.Writes())
	})
	return translate(err)
}

func (s *Store) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ledger.NewBufferedTx(s.fetcher(tx, false), true))
	})
	return translate(err)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(sqlDB.PingContext(ctx))
}

func (s *Store) fetcher(tx *gorm.DB, lock bool) ledger.FetchFunc {
	return func(addr ledger.Address) (ledger.Entry, bool, error) {
		q := tx
		if lock {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var row Record
		res := q.Where("address = ?", addr.String()).Limit(1).Find(&row)
		if res.Error != nil {
			return ledger.Entry{}, false, errors.Wrapf(res.Error, "fetch %s", addr)
		}
		if res.RowsAffected == 0 {
			return ledger.Entry{}, false, nil
		}
		return ledger.Entry{Kind: row.Kind, Data: row.Data, Version: row.Version}, true, nil
	}
}

func (s *Store) flush(tx *gorm.DB, writes []ledger.Write) error {
	now := time.Now()
	for _, w := range writes {
		if w.Prev == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&Record{
				Address:   w.Addr.String(),
				Kind:      w.Entry.Kind,
				Data:      w.Entry.Data,
				Version:   w.Entry.Version,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if res.Error != nil {
				return errors.Wrapf(res.Error, "insert %s", w.Addr)
			}
			if res.RowsAffected == 0 {
				return ledger.ErrConflict
			}
			continue
		}

		res := tx.Model(&Record{}).
			Where("address = ? AND version = ?", w.Addr.String(), w.Prev).
			Updates(map[string]interface{}{
				"kind":       w.Entry.Kind,
				"data":       w.Entry.Data,
				"version":    w.Entry.Version,
				"updated_at": now,
			})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "update %s", w.Addr)
		}
		if res.RowsAffected == 0 {
			return ledger.ErrConflict
		}
	}
	return nil
}

// translate maps driver deadlock and serialization failures to ErrConflict.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205) {
		return errors.Wrap(ledger.ErrConflict, myErr.Message)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505") {
		return errors.Wrap(ledger.ErrConflict, pgErr.Message)
	}
	return err
}

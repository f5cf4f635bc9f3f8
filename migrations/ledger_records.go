package migrations

import (
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Apply 按顺序执行全部迁移
func Apply(db *gorm.DB) error {
	for _, m := range []struct {
		name string
		run  func(*gorm.DB) error
	}{
		{"create_ledger_records", CreateLedgerRecords},
		{"add_ledger_records_kind_index", AddKindIndex},
	} {
		if err := m.run(db); err != nil {
			slog.Error("迁移失败", "event", "migration_failed", "module", "migrations", "migration", m.name, "error", err)
			return err
		}
	}
	return nil
}

// CreateLedgerRecords 创建账本记录表
func CreateLedgerRecords(db *gorm.DB) error {
	if db.Migrator().HasTable(&ledgerRecord{}) {
		return nil
	}
	slog.Info("执行迁移", "event", "migration_applied", "module", "migrations", "migration", "create_ledger_records")
	return db.Migrator().CreateTable(&ledgerRecord{})
}

// AddKindIndex 为kind列添加索引
func AddKindIndex(db *gorm.DB) error {
	if db.Migrator().HasIndex(&ledgerRecord{}, "idx_ledger_records_kind") {
		return nil
	}
	slog.Info("执行迁移", "event", "migration_applied", "module", "migrations", "migration", "add_ledger_records_kind_index")
	return db.Migrator().CreateIndex(&ledgerRecord{}, "idx_ledger_records_kind")
}

// 仅用于迁移的表结构
type ledgerRecord struct {
	Address   string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"size:32;not null;index:idx_ledger_records_kind"`
	Data      []byte `gorm:"not null"`
	Version   int64  `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ledgerRecord) TableName() string {
	return "ledger_records"
}

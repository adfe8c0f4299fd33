// Package persistence holds the durable storage layer: the GORM-backed
// equity-snapshot repository (UPSERT per credential and minute) and the
// sqlite-backed crash-safe local snapshot store the live engine saves its
// order/position state into after every fill.
package persistence

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tradecore/pkg/decimal"
)

// EquitySnapshot is one account valuation sample.
type EquitySnapshot struct {
	CredentialID    string
	SnapshotTime    time.Time // truncated to the minute on write
	TotalEquity     decimal.Decimal
	CashBalance     decimal.Decimal
	SecuritiesValue decimal.Decimal
	TotalPnL        decimal.Decimal
	DailyPnL        decimal.Decimal
	Currency        string
	Market          string
	AccountType     string
}

// equityRecord is the GORM model behind EquitySnapshot. Decimal fields are
// stored as strings to keep exactness through the database round trip.
type equityRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	CredentialID    string    `gorm:"size:64;not null;uniqueIndex:idx_credential_minute,priority:1"`
	SnapshotTime    time.Time `gorm:"not null;uniqueIndex:idx_credential_minute,priority:2"`
	TotalEquity     string    `gorm:"type:varchar(40);not null"`
	CashBalance     string    `gorm:"type:varchar(40);not null"`
	SecuritiesValue string    `gorm:"type:varchar(40);not null"`
	TotalPnL        string    `gorm:"type:varchar(40);not null"`
	DailyPnL        string    `gorm:"type:varchar(40);not null"`
	Currency        string    `gorm:"size:8;not null"`
	Market          string    `gorm:"size:16;not null"`
	AccountType     string    `gorm:"size:16"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (equityRecord) TableName() string {
	return "equity_snapshots"
}

// EquityRepository persists equity snapshots.
type EquityRepository struct {
	db *gorm.DB
}

// NewEquityRepository connects to MySQL and migrates the schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True"
func NewEquityRepository(dsn string) (*EquityRepository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	return NewEquityRepositoryWithDB(db)
}

// NewEquityRepositoryWithDB wraps an existing GORM handle (tests use this
// with a sqlite dialector).
func NewEquityRepositoryWithDB(db *gorm.DB) (*EquityRepository, error) {
	if err := db.AutoMigrate(&equityRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &EquityRepository{db: db}, nil
}

// Upsert writes a snapshot keyed by (credential_id, snapshot_time
// truncated to the minute): a second write within the same minute updates
// the existing row.
func (r *EquityRepository) Upsert(snap EquitySnapshot) error {
	record := equityRecord{
		CredentialID:    snap.CredentialID,
		SnapshotTime:    snap.SnapshotTime.Truncate(time.Minute),
		TotalEquity:     snap.TotalEquity.String(),
		CashBalance:     snap.CashBalance.String(),
		SecuritiesValue: snap.SecuritiesValue.String(),
		TotalPnL:        snap.TotalPnL.String(),
		DailyPnL:        snap.DailyPnL.String(),
		Currency:        snap.Currency,
		Market:          snap.Market,
		AccountType:     snap.AccountType,
	}

	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "credential_id"}, {Name: "snapshot_time"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_equity", "cash_balance", "securities_value",
			"total_pn_l", "daily_pn_l", "currency", "market", "account_type",
			"updated_at",
		}),
	}).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("upsert equity snapshot: %w", result.Error)
	}
	return nil
}

// History returns a credential's snapshots in the time range, ascending.
func (r *EquityRepository) History(credentialID string, from, to time.Time) ([]EquitySnapshot, error) {
	var records []equityRecord
	result := r.db.
		Where("credential_id = ? AND snapshot_time >= ? AND snapshot_time <= ?", credentialID, from, to).
		Order("snapshot_time asc").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("query equity history: %w", result.Error)
	}

	out := make([]EquitySnapshot, 0, len(records))
	for _, rec := range records {
		snap, err := rec.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (rec equityRecord) toSnapshot() (EquitySnapshot, error) {
	snap := EquitySnapshot{
		CredentialID: rec.CredentialID,
		SnapshotTime: rec.SnapshotTime,
		Currency:     rec.Currency,
		Market:       rec.Market,
		AccountType:  rec.AccountType,
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&snap.TotalEquity, rec.TotalEquity},
		{&snap.CashBalance, rec.CashBalance},
		{&snap.SecuritiesValue, rec.SecuritiesValue},
		{&snap.TotalPnL, rec.TotalPnL},
		{&snap.DailyPnL, rec.DailyPnL},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return EquitySnapshot{}, fmt.Errorf("corrupt decimal %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return snap, nil
}

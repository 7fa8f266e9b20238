package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// callRecord is the gorm model behind the call_records table.
type callRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;not null"`
	Attempt   string `gorm:"not null"`
	Party     string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Mode      string `gorm:"not null"`
	At        time.Time
}

func (callRecord) TableName() string { return "call_records" }

type Postgres struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	return openGorm(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}, true)
}

func openGorm(dialector gorm.Dialector, cfg *gorm.Config, migrate bool) (*Postgres, error) {
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if migrate {
		if err := db.AutoMigrate(&callRecord{}); err != nil {
			return nil, fmt.Errorf("migrate call_records: %w", err)
		}
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) RecordCallStatus(ctx context.Context, rec domain.CallRecord) error {
	row := callRecord{
		SessionID: string(rec.SessionID),
		Attempt:   rec.Attempt,
		Party:     string(rec.Party),
		Status:    string(rec.Status),
		Mode:      string(rec.Mode),
		At:        rec.At,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, session domain.SessionID, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []callRecord
	if err := p.db.WithContext(ctx).
		Where("session_id = ?", string(session)).
		Order("at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	out := make([]domain.CallRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.CallRecord{
			SessionID: domain.SessionID(r.SessionID),
			Attempt:   r.Attempt,
			Party:     domain.PartyID(r.Party),
			Status:    domain.CallStatus(r.Status),
			Mode:      domain.Mode(r.Mode),
			At:        r.At,
		})
	}
	return lo.Reverse(out), nil
}

func (p *Postgres) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := p.db.WithContext(ctx).Where("at < ?", cutoff).Delete(&callRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("prune call records: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

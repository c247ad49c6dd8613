package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sglre6355/notion-notify/internal/domain"
)

// JournalStore records every delivered item. It is write-only: the poller
// never reads it back, so it does not affect which items count as new.
type JournalStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

// NewJournalStore initialises a JournalStore backed by db.
func NewJournalStore(db *gorm.DB) *JournalStore {
	return &JournalStore{db: db, nowFn: time.Now}
}

// AutoMigrate ensures the deliveries table exists with the expected schema.
func (s *JournalStore) AutoMigrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal store not initialised")
	}

	return s.db.WithContext(ctx).AutoMigrate(&deliveryRecord{})
}

// Notify appends a delivery row for item.
func (s *JournalStore) Notify(ctx context.Context, item domain.Item) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("journal store not initialised")
	}

	record := newDeliveryRecord(item, s.nowFn())
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

type deliveryRecord struct {
	ID             uint       `gorm:"primaryKey"`
	ItemID         string     `gorm:"column:item_id;size:128;not null;index:idx_deliveries_item"`
	URL            string     `gorm:"column:url;type:text;not null"`
	LastEditedTime *time.Time `gorm:"column:last_edited_time"`
	DeliveredAt    time.Time  `gorm:"column:delivered_at;not null"`
}

func (deliveryRecord) TableName() string {
	return "deliveries"
}

func newDeliveryRecord(item domain.Item, deliveredAt time.Time) deliveryRecord {
	record := deliveryRecord{
		ItemID:      item.ID,
		URL:         item.URL,
		DeliveredAt: deliveredAt.UTC(),
	}
	if item.LastEditedTime != nil {
		edited := item.LastEditedTime.UTC()
		record.LastEditedTime = &edited
	}
	return record
}

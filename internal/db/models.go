package db

import (
	"strings"
	"time"
)

// Content item statuses. Only the ones the merge engine reads are listed.
const (
	ContentStatusPending      = "pending"
	ContentStatusAccepted     = "accepted"
	ContentStatusDiscarded    = "discarded"
	ContentStatusSavedForNext = "saved-for-next"
)

const (
	BatchStatusPending = "pending"
	BatchStatusMerged  = "merged"
)

// ScrapeBatch maps upkeep.scrape_batches.
type ScrapeBatch struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BatchUUID  string    `gorm:"column:batch_uuid;type:uuid;not null;unique"`
	Name       string    `gorm:"column:name;type:text;not null"`
	Source     string    `gorm:"column:source;type:text;not null;default:''"`
	Status     string    `gorm:"column:status;type:text;not null;default:pending"`
	TotalItems int       `gorm:"column:total_items;type:integer;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ScrapeBatch) TableName() string { return "upkeep.scrape_batches" }

// ContentItem maps upkeep.content_items.
type ContentItem struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID       *int64     `gorm:"column:batch_id;type:bigint"`
	Title         string     `gorm:"column:title;type:text;not null"`
	Link          *string    `gorm:"column:link;type:text"`
	NormalizedURL *string    `gorm:"column:normalized_url;type:text"`
	ContentHash   *string    `gorm:"column:content_hash;type:text"`
	Summary       string     `gorm:"column:summary;type:text;not null;default:''"`
	SourceType    string     `gorm:"column:source_type;type:text;not null;default:''"`
	Language      string     `gorm:"column:language;type:text;not null;default:und"`
	Status        string     `gorm:"column:status;type:text;not null;default:pending"`
	PublishedAt   *time.Time `gorm:"column:published_at;type:timestamptz"`
	CreatedAt     time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ContentItem) TableName() string { return "upkeep.content_items" }

// LinkValue returns the trimmed link or "" when absent.
func (c ContentItem) LinkValue() string { return derefTrimmed(c.Link) }

// ContentHashValue returns the trimmed content hash or "" when absent.
func (c ContentItem) ContentHashValue() string { return derefTrimmed(c.ContentHash) }

func derefTrimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func autoMigrateModels() []any {
	return []any{
		&ScrapeBatch{},
		&ContentItem{},
	}
}

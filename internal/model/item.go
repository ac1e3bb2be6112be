package model

import (
	"time"

	"gorm.io/gorm"
)

// Topic constants shared by selection and classification.
const (
	// TopicWildcard selects across every topic in the catalog.
	TopicWildcard = "general"

	// TopicUnclassified marks items no keyword rule matched.
	TopicUnclassified = "unclassified"
)

// DefaultDurationSeconds is assumed for an item whose duration was never
// recorded, so duration-capped selection stays conservative.
const DefaultDurationSeconds = 3600

// Item represents one catalogued media unit discovered from an upstream
// channel. Items are created and updated by the catalog refresh; the
// compilation pipeline only reads them and appends usage records.
type Item struct {
	gorm.Model
	ExternalID string `gorm:"size:20;uniqueIndex;not null"`
	Title      string `gorm:"size:500"`
	URL        string `gorm:"size:500"`
	Duration   int    // seconds
	UploadDate string `gorm:"size:10"` // YYYY-MM-DD
	Channel    string `gorm:"size:200"`
	Topic      string `gorm:"size:100;index"`
}

// EffectiveDuration returns the item's duration in seconds, assuming
// DefaultDurationSeconds when no duration was recorded.
func (i Item) EffectiveDuration() int {
	if i.Duration > 0 {
		return i.Duration
	}
	return DefaultDurationSeconds
}

// Compilation represents one produced output artifact. Rows are created
// only after a successful concat and are never mutated.
type Compilation struct {
	gorm.Model
	Topic     string `gorm:"size:100"`
	Filename  string `gorm:"size:500"`
	ItemCount int
}

// UsageRecord marks that an item was used in a compilation at a point in
// time. Records are append-only; the most recent one per item determines
// cooldown eligibility.
type UsageRecord struct {
	ID            uint      `gorm:"primarykey"`
	CompilationID uint      `gorm:"index;not null"`
	ItemID        uint      `gorm:"index;not null"`
	UsedAt        time.Time `gorm:"index;not null"`
}

package models

import "time"

// Delivery is the audit record for one outbound send attempt that
// reached the dispatch or registration stage.
type Delivery struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ContactID string `gorm:"size:64;index"`
	Message   string `gorm:"type:text"`
	Status    string `gorm:"size:16;index"` // "sent", "failed", "unregistered"
	Detail    string `gorm:"size:256"`      // transport error detail, if any
	CreatedAt time.Time
}

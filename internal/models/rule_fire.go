package models

import "time"

// RuleFire records one auto-reply rule firing against an inbound message.
type RuleFire struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Rule      string `gorm:"size:64;index"`
	ChatID    string `gorm:"size:64;index"`
	Response  string `gorm:"type:text"`
	Status    string `gorm:"size:16"` // "scheduled", "sent", "cancelled", "failed"
	CreatedAt time.Time
}

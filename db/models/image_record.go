package models

import "time"

// ImageRecord is a stored relay image. Payload keeps the original encoded
// bytes as base64 text; Fingerprint is the 64-char perceptual hash bit
// string. Records are written once and never mutated.
//
// OwnerID carries an index for the list-by-owner path. The fingerprint
// column is deliberately unindexed: admission always scans every row.
type ImageRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	OwnerID     string    `gorm:"index;not null"`
	Payload     string    `gorm:"not null"`
	Fingerprint string    `gorm:"size:64;not null"`
	InsertedAt  time.Time `gorm:"autoCreateTime"`
}

func (ImageRecord) TableName() string { return "image_records" }

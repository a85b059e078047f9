package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User is the persisted account record.
type User struct {
	ID           uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string                      `gorm:"type:text;uniqueIndex;not null"`
	Username     string                      `gorm:"type:text;uniqueIndex;not null"`
	PasswordHash string                      `gorm:"type:text;not null"`
	FirstName    string                      `gorm:"type:text;not null"`
	LastName     string                      `gorm:"type:text;not null"`
	Gender       string                      `gorm:"type:text;not null"`
	Birthdate    time.Time                   `gorm:"type:date;not null"`
	Location     string                      `gorm:"type:text;not null"`
	Interests    datatypes.JSONSlice[string] `gorm:"type:jsonb;not null;default:'[]'::jsonb"`
	Bio          *string                     `gorm:"type:text"`
	IGURL        *string                     `gorm:"column:ig_url;type:text;uniqueIndex"`
	Role         string                      `gorm:"type:text;not null;default:'USER';index"`
	Status       string                      `gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time                   `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

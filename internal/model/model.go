package model

import (
	"time"
)

// Attachment is one registration of a modem with the provisioner, kept
// after the modem goes away.
type Attachment struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	Handle         string            `gorm:"uniqueIndex;not null" json:"handle"`
	Family         string            `gorm:"index;not null" json:"family"`
	Port           string            `json:"port"` // AT command port
	Roles          map[string]string `gorm:"serializer:json" json:"roles"`
	IMEI           string            `json:"imei"`
	Revision       string            `json:"revision"` // ATI
	Operator       string            `json:"operator"`
	SignalStrength int               `json:"signal_strength"` // CSQ, percent
	SIMPresent     bool              `json:"sim_present"`
	Status         string            `gorm:"index" json:"status"` // attached, ready, detached
	AttachedAt     time.Time         `json:"attached_at"`
	DetachedAt     *time.Time        `json:"detached_at,omitempty"`
	LastSeen       time.Time         `json:"last_seen"`
}

// Position is a GPS fix read from a modem's NMEA port.
type Position struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Handle    string    `gorm:"index;not null" json:"handle"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"` // knots
	Course    float64   `json:"course"`
	FixTime   time.Time `gorm:"index" json:"fix_time"`
	CreatedAt time.Time `json:"created_at"`
}

// Webhook receives attach/detach notifications. Family "*" matches every
// modem.
type Webhook struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Family    string    `gorm:"index;not null;default:'*'" json:"family"`
	URL       string    `gorm:"not null" json:"url"`
	Platform  string    `json:"platform"`   // telegram, slack, generic
	ChannelID string    `json:"channel_id"` // For Telegram
	Template  string    `json:"template"`   // "{{.Event}} {{.Family}} {{.Name}}"
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

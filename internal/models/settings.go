package models

import "time"

// SettingsRowID is the primary key of the singleton settings rows.
const SettingsRowID = 1

// TimeoutSettings holds the forwarding timeouts in seconds.
type TimeoutSettings struct {
	ID                     uint      `gorm:"primaryKey" json:"-"`
	StreamFirstByteTimeout int       `gorm:"not null;default:30" json:"stream_first_byte_timeout"`
	StreamIdleTimeout      int       `gorm:"not null;default:60" json:"stream_idle_timeout"`
	NonStreamTimeout       int       `gorm:"not null;default:120" json:"non_stream_timeout"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type GatewaySettings struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	DebugLog  bool      `gorm:"not null;default:false" json:"debug_log"`
	UpdatedAt time.Time `json:"updated_at"`
}

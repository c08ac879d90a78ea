package models

import (
	"fmt"
	"time"
)

// Category is the logical client family a provider serves. Providers are
// partitioned by category and selection never crosses categories.
type Category string

const (
	CategoryClaudeCode Category = "claude_code"
	CategoryCodex      Category = "codex"
	CategoryGemini     Category = "gemini"
)

// Health defaults applied when a provider is created without them.
const (
	DefaultFailureThreshold = 3
	DefaultBlacklistMinutes = 10
)

// Categories lists every valid category in display order.
var Categories = []Category{CategoryClaudeCode, CategoryCodex, CategoryGemini}

func (c Category) Valid() bool {
	switch c {
	case CategoryClaudeCode, CategoryCodex, CategoryGemini:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid category %q", s)
	}
	return c, nil
}

// Provider is one upstream endpoint. ConsecutiveFailures and BlacklistedUntil
// are written only by the health tracker.
type Provider struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Category Category `gorm:"size:20;not null;default:'claude_code';uniqueIndex:uq_category_provider_name;index:idx_providers_selection,priority:1" json:"category"`
	Name     string   `gorm:"size:100;not null;uniqueIndex:uq_category_provider_name" json:"name"`
	BaseURL  string   `gorm:"size:500;not null" json:"base_url"`
	APIKey   string   `gorm:"size:500;not null" json:"-"`
	Enabled  bool     `gorm:"not null;index:idx_providers_selection,priority:2" json:"enabled"`
	Priority int      `gorm:"not null;default:0;index:idx_providers_selection,priority:3" json:"priority"`

	FailureThreshold int `gorm:"not null;default:3" json:"failure_threshold"`
	BlacklistMinutes int `gorm:"not null;default:10" json:"blacklist_minutes"`

	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	BlacklistedUntil    *time.Time `json:"blacklisted_until,omitempty"`
}

// BlacklistDuration is the length of the blacklist window once triggered.
func (p *Provider) BlacklistDuration() time.Duration {
	return time.Duration(p.BlacklistMinutes) * time.Minute
}

// IsBlacklisted reports whether the blacklist window is still open at now.
// A window that ends exactly at now has lapsed.
func (p *Provider) IsBlacklisted(now time.Time) bool {
	return p.BlacklistedUntil != nil && p.BlacklistedUntil.After(now)
}

// MaskedAPIKey returns a form of the credential that is safe to display.
func (p *Provider) MaskedAPIKey() string {
	return MaskSecret(p.APIKey)
}

// MaskSecret keeps the first and last four characters of long secrets.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

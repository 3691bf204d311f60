package models

import (
	"net/netip"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BotPlatform string

const (
	BotPlatformDefault  BotPlatform = "default"
	BotPlatformLangflow BotPlatform = "langflow"
	BotPlatformN8N      BotPlatform = "n8n"
)

type BotPlatformRunningType string

const (
	BotRunningTypeDefault  BotPlatformRunningType = "default"
	BotRunningTypeEndpoint BotPlatformRunningType = "endpoint"
	BotRunningTypeFlowJSON BotPlatformRunningType = "flow_json"
)

// allowedRunningTypes lists the running types each platform accepts. The
// first entry is the platform default.
var allowedRunningTypes = map[BotPlatform][]BotPlatformRunningType{
	BotPlatformDefault:  {BotRunningTypeDefault},
	BotPlatformLangflow: {BotRunningTypeEndpoint, BotRunningTypeFlowJSON},
	BotPlatformN8N:      {BotRunningTypeDefault},
}

func (p BotPlatform) Valid() bool {
	_, ok := allowedRunningTypes[p]
	return ok
}

func (p BotPlatform) DefaultRunningType() BotPlatformRunningType {
	types, ok := allowedRunningTypes[p]
	if !ok {
		return BotRunningTypeDefault
	}
	return types[0]
}

func (p BotPlatform) Allows(rt BotPlatformRunningType) bool {
	for _, t := range allowedRunningTypes[p] {
		if t == rt {
			return true
		}
	}
	return false
}

type Bot struct {
	ID                  SnowflakeID                 `gorm:"primaryKey;autoIncrement:false" json:"uid"`
	Name                string                      `gorm:"size:100;not null" json:"name"`
	Uname               string                      `gorm:"size:100;uniqueIndex;not null" json:"bot_uname"`
	Platform            BotPlatform                 `gorm:"size:20;not null" json:"platform"`
	PlatformRunningType BotPlatformRunningType      `gorm:"size:20;not null" json:"platform_running_type"`
	APIURL              string                      `gorm:"type:text" json:"api_url"`
	APIKey              string                      `gorm:"type:text" json:"-"`
	AppAPIToken         string                      `gorm:"type:text" json:"-"`
	Value               string                      `gorm:"type:text" json:"value,omitempty"`
	IPWhitelist         datatypes.JSONSlice[string] `json:"ip_whitelist"`
	Avatar              *string                     `gorm:"type:text" json:"avatar,omitempty"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// NewBot builds a bot whose platform pair is already normalized.
func NewBot(name, uname string, platform BotPlatform, runningType BotPlatformRunningType) *Bot {
	b := &Bot{
		Name:                name,
		Uname:               uname,
		Platform:            platform,
		PlatformRunningType: runningType,
	}
	b.Normalize()
	return b
}

func (Bot) TableName() string {
	return "bots"
}

func (b *Bot) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewSnowflakeID()
	}
	b.Normalize()
	return nil
}

// Normalize forces the (platform, running type) pair into the allowed matrix.
// Unknown platforms become Default; unsupported running types fall back to
// the platform default.
func (b *Bot) Normalize() {
	if !b.Platform.Valid() {
		b.Platform = BotPlatformDefault
	}
	if !b.Platform.Allows(b.PlatformRunningType) {
		b.PlatformRunningType = b.Platform.DefaultRunningType()
	}
}

// AllowsIP reports whether ip matches the whitelist. Entries are exact
// addresses or CIDR prefixes. An empty whitelist allows everything.
func (b *Bot) AllowsIP(ip string) bool {
	if len(b.IPWhitelist) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	for _, entry := range b.IPWhitelist {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if other, err := netip.ParseAddr(entry); err == nil && other == addr {
			return true
		}
	}
	return false
}

package instance

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no instance exists under the requested name.
var ErrNotFound = errors.New("instance not found")

// ChannelType identifies the transport an instance is bound to.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
)

// Instance is one tenant's channel-bound bot configuration. The pipeline
// only reads instances; mutation happens through the admin surface.
type Instance struct {
	Name        string      `json:"name" validate:"required"`
	ChannelType ChannelType `json:"channel_type"`

	// Evolution bridge settings (WhatsApp).
	EvolutionURL     string `json:"evolution_url,omitempty"`
	EvolutionKey     string `json:"evolution_key,omitempty"`
	WhatsAppInstance string `json:"whatsapp_instance,omitempty"`

	// Discord settings.
	DiscordBotToken         string `json:"discord_bot_token,omitempty"`
	DiscordDefaultChannelID string `json:"discord_default_channel_id,omitempty"`

	// Telegram settings.
	TelegramBotToken string `json:"telegram_bot_token,omitempty"`

	// Agent endpoint settings.
	AgentAPIURL         string `json:"agent_api_url,omitempty"`
	AgentAPIKey         string `json:"agent_api_key,omitempty"`
	AgentID             string `json:"agent_id,omitempty"`
	AgentTimeoutSeconds int    `json:"agent_timeout"`

	IsActive        bool `json:"is_active"`
	EnableAutoSplit bool `json:"enable_auto_split"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentTimeout returns the configured timeout, falling back to def when unset.
func (i Instance) AgentTimeout(def time.Duration) time.Duration {
	if i.AgentTimeoutSeconds <= 0 {
		return def
	}
	return time.Duration(i.AgentTimeoutSeconds) * time.Second
}

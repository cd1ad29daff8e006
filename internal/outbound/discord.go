package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/omnihubio/omnihub/internal/instance"
)

// DiscordSender delivers text to a Discord channel over the REST API.
// Sessions are cached per bot token; no gateway connection is opened.
type DiscordSender struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*discordgo.Session
}

func NewDiscordSender(log *slog.Logger) *DiscordSender {
	return &DiscordSender{
		logger:   log.With(slog.String("sender", "discord")),
		sessions: make(map[string]*discordgo.Session),
	}
}

func (s *DiscordSender) session(token string) (*discordgo.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		return sess, nil
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.sessions[token] = sess
	return sess, nil
}

func (s *DiscordSender) Send(ctx context.Context, inst instance.Instance, recipient, text string) SendResult {
	if inst.DiscordBotToken == "" {
		return SendResult{Err: fmt.Errorf("instance %q has no discord token", inst.Name)}
	}
	channelID := recipient
	if channelID == "" {
		channelID = inst.DiscordDefaultChannelID
	}
	if channelID == "" {
		return SendResult{Err: fmt.Errorf("instance %q has no discord channel", inst.Name)}
	}

	sess, err := s.session(inst.DiscordBotToken)
	if err != nil {
		return SendResult{Err: err}
	}
	if _, err := sess.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return SendResult{Err: fmt.Errorf("discord send: %w", err)}
	}
	s.logger.Debug("unit sent",
		slog.String("instance", inst.Name),
		slog.String("channel_id", channelID))
	return SendResult{Success: true, StatusCode: 200}
}

package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const instanceColumns = `name, channel_type, evolution_url, evolution_key, whatsapp_instance,
	discord_bot_token, discord_default_channel_id, telegram_bot_token,
	agent_api_url, agent_api_key, agent_id, agent_timeout,
	is_active, enable_auto_split, created_at, updated_at`

// Service reads and manages tenant instance configuration.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "instance")),
	}
}

// Get resolves one instance by its unique name.
func (s *Service) Get(ctx context.Context, name string) (Instance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE name = $1`, name)
	inst, err := scanInstance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Instance{}, ErrNotFound
	}
	if err != nil {
		return Instance{}, fmt.Errorf("get instance %q: %w", name, err)
	}
	return inst, nil
}

func (s *Service) List(ctx context.Context) ([]Instance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *Service) Create(ctx context.Context, inst Instance) (Instance, error) {
	if inst.ChannelType == "" {
		inst.ChannelType = ChannelWhatsApp
	}
	if inst.AgentID == "" {
		inst.AgentID = "default"
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO instances (name, channel_type, evolution_url, evolution_key, whatsapp_instance,
			discord_bot_token, discord_default_channel_id, telegram_bot_token,
			agent_api_url, agent_api_key, agent_id, agent_timeout, is_active, enable_auto_split)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inst.Name, inst.ChannelType, nullable(inst.EvolutionURL), nullable(inst.EvolutionKey),
		nullable(inst.WhatsAppInstance), nullable(inst.DiscordBotToken),
		nullable(inst.DiscordDefaultChannelID), nullable(inst.TelegramBotToken),
		nullable(inst.AgentAPIURL), nullable(inst.AgentAPIKey), inst.AgentID,
		inst.AgentTimeoutSeconds, inst.IsActive, inst.EnableAutoSplit)
	if err != nil {
		return Instance{}, fmt.Errorf("create instance %q: %w", inst.Name, err)
	}
	s.logger.Info("instance created",
		slog.String("name", inst.Name),
		slog.String("channel", string(inst.ChannelType)))
	return s.Get(ctx, inst.Name)
}

func (s *Service) Update(ctx context.Context, inst Instance) (Instance, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE instances SET channel_type = $2, evolution_url = $3, evolution_key = $4,
			whatsapp_instance = $5, discord_bot_token = $6, discord_default_channel_id = $7,
			telegram_bot_token = $8, agent_api_url = $9, agent_api_key = $10, agent_id = $11,
			agent_timeout = $12, is_active = $13, enable_auto_split = $14, updated_at = now()
		 WHERE name = $1`,
		inst.Name, inst.ChannelType, nullable(inst.EvolutionURL), nullable(inst.EvolutionKey),
		nullable(inst.WhatsAppInstance), nullable(inst.DiscordBotToken),
		nullable(inst.DiscordDefaultChannelID), nullable(inst.TelegramBotToken),
		nullable(inst.AgentAPIURL), nullable(inst.AgentAPIKey), inst.AgentID,
		inst.AgentTimeoutSeconds, inst.IsActive, inst.EnableAutoSplit)
	if err != nil {
		return Instance{}, fmt.Errorf("update instance %q: %w", inst.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return Instance{}, ErrNotFound
	}
	return s.Get(ctx, inst.Name)
}

func (s *Service) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM instances WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete instance %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("instance deleted", slog.String("name", name))
	return nil
}

func scanInstance(row pgx.Row) (Instance, error) {
	var inst Instance
	var evoURL, evoKey, waInstance, dcToken, dcChannel, tgToken, agURL, agKey *string
	err := row.Scan(&inst.Name, &inst.ChannelType, &evoURL, &evoKey, &waInstance,
		&dcToken, &dcChannel, &tgToken, &agURL, &agKey, &inst.AgentID,
		&inst.AgentTimeoutSeconds, &inst.IsActive, &inst.EnableAutoSplit,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return Instance{}, err
	}
	inst.EvolutionURL = deref(evoURL)
	inst.EvolutionKey = deref(evoKey)
	inst.WhatsAppInstance = deref(waInstance)
	inst.DiscordBotToken = deref(dcToken)
	inst.DiscordDefaultChannelID = deref(dcChannel)
	inst.TelegramBotToken = deref(tgToken)
	inst.AgentAPIURL = deref(agURL)
	inst.AgentAPIKey = deref(agKey)
	return inst, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
)

// EvolutionSender delivers text through an Evolution-style phone bridge.
type EvolutionSender struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewEvolutionSender(log *slog.Logger) *EvolutionSender {
	return &EvolutionSender{
		httpClient: &http.Client{},
		logger:     log.With(slog.String("sender", "evolution")),
	}
}

type evolutionSendBody struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

func (s *EvolutionSender) Send(ctx context.Context, inst instance.Instance, recipient, text string) SendResult {
	if inst.EvolutionURL == "" {
		return SendResult{Err: fmt.Errorf("instance %q has no bridge url", inst.Name)}
	}
	bridgeInstance := inst.WhatsAppInstance
	if bridgeInstance == "" {
		bridgeInstance = inst.Name
	}
	endpoint := strings.TrimRight(inst.EvolutionURL, "/") +
		"/message/sendText/" + url.PathEscape(bridgeInstance)

	body, err := json.Marshal(evolutionSendBody{
		Number: identity.NormalizeSender(recipient),
		Text:   text,
	})
	if err != nil {
		return SendResult{Err: fmt.Errorf("marshal send body: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", inst.EvolutionKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SendResult{Err: fmt.Errorf("bridge send: %w", err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bridge send status %d", resp.StatusCode),
		}
	}
	s.logger.Debug("unit sent",
		slog.String("instance", inst.Name),
		slog.Int("status", resp.StatusCode))
	return SendResult{Success: true, StatusCode: resp.StatusCode}
}

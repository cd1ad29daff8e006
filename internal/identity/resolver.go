package identity

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Resolution is the stable identity triple for one (instance, sender) pair.
type Resolution struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	SessionName string `json:"session_name"`
}

// Store persists user and session records. Resolution does not depend on
// it; a store failure degrades to an unrecorded but still correct identity.
type Store interface {
	UpsertUser(ctx context.Context, u User) error
	TouchSession(ctx context.Context, s Session) error
}

// Resolver derives deterministic identities and lazily materializes
// User/Session records.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

func NewResolver(log *slog.Logger, store Store) *Resolver {
	return &Resolver{
		store:  store,
		logger: log.With(slog.String("service", "identity")),
	}
}

// Resolve returns the identity triple for a sender within an instance and
// records the User/Session. The triple is always valid; the returned error
// only reports a persistence failure the caller may log as an anomaly.
func (r *Resolver) Resolve(ctx context.Context, instanceName, senderID, displayName string) (Resolution, error) {
	res := Derive(instanceName, senderID)

	user := User{
		ID:           res.UserID,
		InstanceName: instanceName,
		SenderID:     NormalizeSender(senderID),
		SenderJID:    senderID,
		DisplayName:  displayName,
	}
	if err := r.store.UpsertUser(ctx, user); err != nil {
		r.logger.Warn("user upsert failed",
			slog.String("instance", instanceName),
			slog.String("sender", user.SenderID),
			slog.Any("error", err))
		return res, err
	}

	session := Session{
		ID:           res.SessionID,
		Name:         res.SessionName,
		InstanceName: instanceName,
		UserID:       res.UserID,
	}
	if err := r.store.TouchSession(ctx, session); err != nil {
		r.logger.Warn("session touch failed",
			slog.String("session", res.SessionName),
			slog.Any("error", err))
		return res, err
	}
	return res, nil
}

// Derive computes the identity triple without touching storage. Repeated
// calls with the same inputs always produce the same result.
func Derive(instanceName, senderID string) Resolution {
	sender := NormalizeSender(senderID)
	sessionName := instanceName + "_" + sender
	return Resolution{
		UserID:      deriveUserID(sender),
		SessionID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionName)).String(),
		SessionName: sessionName,
	}
}

// deriveUserID hashes the digits of the sender identifier into a UUIDv5.
// A sender with no usable identifier maps to the shared "default" identity
// so the agent payload never carries an empty user id.
func deriveUserID(sender string) string {
	name := digitsOf(sender)
	if name == "" {
		name = sender
	}
	if name == "" {
		name = "default"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// NormalizeSender strips channel addressing suffixes, e.g. the JID domain
// of a phone bridge ("5511999999999@s.whatsapp.net").
func NormalizeSender(senderID string) string {
	if at := strings.IndexByte(senderID, '@'); at >= 0 {
		return senderID[:at]
	}
	return senderID
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

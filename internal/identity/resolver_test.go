package identity

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	users    []User
	sessions []Session
	failWith error
}

func (s *recordingStore) UpsertUser(_ context.Context, u User) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.users = append(s.users, u)
	return nil
}

func (s *recordingStore) TouchSession(_ context.Context, sess Session) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.sessions = append(s.sessions, sess)
	return nil
}

func TestDeriveDeterministic(t *testing.T) {
	t.Parallel()

	first := Derive("bot-a", "5511999999999@s.whatsapp.net")
	second := Derive("bot-a", "5511999999999@s.whatsapp.net")
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.UserID)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, "bot-a_5511999999999", first.SessionName)
}

func TestDeriveMatchesDigitsHash(t *testing.T) {
	t.Parallel()

	// Identity is the namespace hash of the sender digits; the JID suffix
	// and formatting characters must not affect it.
	plain := Derive("bot-a", "5511999999999")
	jid := Derive("bot-a", "5511999999999@s.whatsapp.net")
	assert.Equal(t, plain.UserID, jid.UserID)

	want := uuid.NewSHA1(uuid.NameSpaceOID, []byte("5511999999999")).String()
	assert.Equal(t, want, plain.UserID)
}

func TestDeriveNeverEmpty(t *testing.T) {
	t.Parallel()

	res := Derive("bot-a", "")
	assert.NotEmpty(t, res.UserID)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceOID, []byte("default")).String(), res.UserID)
}

func TestDeriveDistinctSenders(t *testing.T) {
	t.Parallel()

	a := Derive("bot-a", "111@s.whatsapp.net")
	b := Derive("bot-a", "222@s.whatsapp.net")
	assert.NotEqual(t, a.UserID, b.UserID)
	assert.NotEqual(t, a.SessionID, b.SessionID)
}

func TestResolvePersistsRecords(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	resolver := NewResolver(slog.Default(), store)

	res, err := resolver.Resolve(context.Background(), "bot-a", "5511999999999@s.whatsapp.net", "Alice")
	require.NoError(t, err)

	require.Len(t, store.users, 1)
	assert.Equal(t, res.UserID, store.users[0].ID)
	assert.Equal(t, "5511999999999", store.users[0].SenderID)
	assert.Equal(t, "Alice", store.users[0].DisplayName)

	require.Len(t, store.sessions, 1)
	assert.Equal(t, res.SessionID, store.sessions[0].ID)
	assert.Equal(t, res.SessionName, store.sessions[0].Name)
}

func TestResolveSurvivesStoreFailure(t *testing.T) {
	t.Parallel()

	store := &recordingStore{failWith: errors.New("db down")}
	resolver := NewResolver(slog.Default(), store)

	res, err := resolver.Resolve(context.Background(), "bot-a", "5511999999999", "")
	require.Error(t, err)
	// The triple is still valid; persistence is best-effort.
	assert.Equal(t, Derive("bot-a", "5511999999999"), res)
}

package access

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RuleStore loads the rule state relevant to one (instance, sender) pair.
type RuleStore interface {
	Snapshot(ctx context.Context, instanceName, senderID string) (Snapshot, error)
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

// Evaluator decides whether a sender may use an instance. Decisions are
// cached per (instance, sender) for a bounded time window; expired entries
// are swept on write so the map cannot grow without bound.
type Evaluator struct {
	store  RuleStore
	logger *slog.Logger
	ttl    time.Duration

	mu        sync.Mutex
	cache     map[string]cacheEntry
	lastSweep time.Time
}

func NewEvaluator(log *slog.Logger, store RuleStore, ttl time.Duration) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: log.With(slog.String("service", "access")),
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
	}
}

// Evaluate applies the precedence: block wins, then allow-list-if-present,
// otherwise allow. A store failure fails open and is surfaced via
// Decision.Anomaly so the caller records it instead of silently passing.
func (e *Evaluator) Evaluate(ctx context.Context, instanceName, senderID string) Decision {
	key := instanceName + "|" + senderID
	if dec, ok := e.cached(key); ok {
		return dec
	}

	snap, err := e.store.Snapshot(ctx, instanceName, senderID)
	if err != nil {
		e.logger.Error("rule lookup failed, failing open",
			slog.String("instance", instanceName),
			slog.String("sender", senderID),
			slog.Any("error", err))
		return Decision{Allowed: true, Anomaly: err}
	}

	dec := decide(snap)
	e.put(key, dec)
	return dec
}

func decide(snap Snapshot) Decision {
	if snap.SenderBlocked {
		reason := snap.BlockReason
		if reason == "" {
			reason = "sender blocked"
		}
		return Decision{Allowed: false, Reason: reason}
	}
	if snap.InstanceHasAllow && !snap.SenderAllowed {
		return Decision{Allowed: false, Reason: "not in allow-list"}
	}
	return Decision{Allowed: true}
}

func (e *Evaluator) cached(key string) (Decision, bool) {
	if e.ttl <= 0 {
		return Decision{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return Decision{}, false
	}
	return entry.decision, true
}

func (e *Evaluator) put(key string, dec Decision) {
	if e.ttl <= 0 {
		return
	}
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Sub(e.lastSweep) > e.ttl {
		for k, v := range e.cache {
			if now.After(v.expires) {
				delete(e.cache, k)
			}
		}
		e.lastSweep = now
	}
	e.cache[key] = cacheEntry{decision: dec, expires: now.Add(e.ttl)}
}

// Invalidate drops cached decisions for an instance after rule changes.
func (e *Evaluator) Invalidate(instanceName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := instanceName + "|"
	for k := range e.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(e.cache, k)
		}
	}
}

package access

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRuleStore persists access rules in Postgres.
type PGRuleStore struct {
	pool *pgxpool.Pool
}

func NewPGRuleStore(pool *pgxpool.Pool) *PGRuleStore {
	return &PGRuleStore{pool: pool}
}

func (s *PGRuleStore) Snapshot(ctx context.Context, instanceName, senderID string) (Snapshot, error) {
	var snap Snapshot
	var blockReason *string
	err := s.pool.QueryRow(ctx,
		`SELECT
		   EXISTS (SELECT 1 FROM access_rules
		           WHERE instance_name = $1 AND sender_id = $2 AND rule_type = 'block'),
		   (SELECT reason FROM access_rules
		    WHERE instance_name = $1 AND sender_id = $2 AND rule_type = 'block' LIMIT 1),
		   EXISTS (SELECT 1 FROM access_rules
		           WHERE instance_name = $1 AND sender_id = $2 AND rule_type = 'allow'),
		   EXISTS (SELECT 1 FROM access_rules
		           WHERE instance_name = $1 AND rule_type = 'allow')`,
		instanceName, senderID).
		Scan(&snap.SenderBlocked, &blockReason, &snap.SenderAllowed, &snap.InstanceHasAllow)
	if err != nil {
		return Snapshot{}, fmt.Errorf("rule snapshot %s/%s: %w", instanceName, senderID, err)
	}
	if blockReason != nil {
		snap.BlockReason = *blockReason
	}
	return snap, nil
}

func (s *PGRuleStore) Add(ctx context.Context, r Rule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_rules (instance_name, sender_id, rule_type, reason)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (instance_name, sender_id, rule_type) DO UPDATE SET reason = EXCLUDED.reason`,
		r.InstanceName, r.SenderID, r.Action, emptyToNil(r.Reason))
	if err != nil {
		return fmt.Errorf("add rule %s/%s: %w", r.InstanceName, r.SenderID, err)
	}
	return nil
}

func (s *PGRuleStore) Delete(ctx context.Context, instanceName, senderID string, action Action) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM access_rules WHERE instance_name = $1 AND sender_id = $2 AND rule_type = $3`,
		instanceName, senderID, action)
	if err != nil {
		return fmt.Errorf("delete rule %s/%s: %w", instanceName, senderID, err)
	}
	return nil
}

func (s *PGRuleStore) List(ctx context.Context, instanceName string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, instance_name, sender_id, rule_type, reason, created_at
		 FROM access_rules WHERE instance_name = $1 ORDER BY sender_id, rule_type`,
		instanceName)
	if err != nil {
		return nil, fmt.Errorf("list rules %s: %w", instanceName, err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var r Rule
		var reason *string
		if err := rows.Scan(&r.ID, &r.InstanceName, &r.SenderID, &r.Action, &reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if reason != nil {
			r.Reason = *reason
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

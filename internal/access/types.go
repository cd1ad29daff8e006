package access

import "time"

// Action is the effect of one access rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// Rule scopes an allow or block decision to one instance and sender.
type Rule struct {
	ID           int64     `json:"id"`
	InstanceName string    `json:"instance_name"`
	SenderID     string    `json:"sender_id" validate:"required"`
	Action       Action    `json:"action" validate:"required,oneof=allow block"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Decision is the outcome of evaluating a sender against an instance's
// rules. Anomaly carries a store error the evaluation failed open on.
type Decision struct {
	Allowed bool
	Reason  string
	Anomaly error
}

// Snapshot is the minimal rule state needed to decide one sender.
type Snapshot struct {
	SenderBlocked    bool
	BlockReason      string
	SenderAllowed    bool
	InstanceHasAllow bool
}

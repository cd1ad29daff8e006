package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/omnihubio/omnihub/internal/instance"
)

// SendResult reports one unit's delivery outcome for trace recording.
type SendResult struct {
	Success    bool
	StatusCode int
	Err        error
}

// Sender delivers one send unit to a recipient on a channel.
type Sender interface {
	Send(ctx context.Context, inst instance.Instance, recipient, text string) SendResult
}

// Policy bounds retries and the inter-unit pacing delay.
type Policy struct {
	RetryMax       int
	RetryBackoffMs int
	SplitDelayMin  time.Duration
	SplitDelayMax  time.Duration
}

func NormalizePolicy(p Policy) Policy {
	if p.RetryMax <= 0 {
		p.RetryMax = 3
	}
	if p.RetryBackoffMs <= 0 {
		p.RetryBackoffMs = 500
	}
	if p.SplitDelayMin <= 0 {
		p.SplitDelayMin = 300 * time.Millisecond
	}
	if p.SplitDelayMax < p.SplitDelayMin {
		p.SplitDelayMax = p.SplitDelayMin
	}
	return p
}

// Dispatcher routes send units to the channel-specific sender and paces
// multi-unit replies so ordering is preserved on the receiving side.
type Dispatcher struct {
	senders map[instance.ChannelType]Sender
	policy  Policy
	logger  *slog.Logger
}

func NewDispatcher(log *slog.Logger, policy Policy, senders map[instance.ChannelType]Sender) *Dispatcher {
	return &Dispatcher{
		senders: senders,
		policy:  NormalizePolicy(policy),
		logger:  log.With(slog.String("service", "outbound")),
	}
}

// SendUnits delivers units in order. The last unit's result is returned;
// an earlier failure short-circuits and is returned instead.
func (d *Dispatcher) SendUnits(ctx context.Context, inst instance.Instance, recipient string, units []string) SendResult {
	sender, ok := d.senders[inst.ChannelType]
	if !ok {
		return SendResult{Err: fmt.Errorf("no sender for channel %q", inst.ChannelType)}
	}

	var last SendResult
	for i, unit := range units {
		if i > 0 {
			select {
			case <-time.After(d.splitDelay()):
			case <-ctx.Done():
				return SendResult{Err: ctx.Err()}
			}
		}
		last = d.sendWithRetry(ctx, sender, inst, recipient, unit)
		if !last.Success {
			d.logger.Warn("send unit failed",
				slog.String("instance", inst.Name),
				slog.Int("unit", i+1),
				slog.Int("units", len(units)),
				slog.Any("error", last.Err))
			return last
		}
	}
	return last
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sender Sender, inst instance.Instance, recipient, text string) SendResult {
	backoff := time.Duration(d.policy.RetryBackoffMs) * time.Millisecond
	var result SendResult
	for attempt := 1; attempt <= d.policy.RetryMax; attempt++ {
		result = sender.Send(ctx, inst, recipient, text)
		if result.Success {
			return result
		}
		if attempt < d.policy.RetryMax {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return SendResult{Err: ctx.Err(), StatusCode: result.StatusCode}
			}
			backoff *= 2
		}
	}
	return result
}

func (d *Dispatcher) splitDelay() time.Duration {
	min, max := d.policy.SplitDelayMin, d.policy.SplitDelayMax
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnihubio/omnihub/internal/access"
	"github.com/omnihubio/omnihub/internal/agent"
	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
	"github.com/omnihubio/omnihub/internal/outbound"
	"github.com/omnihubio/omnihub/internal/trace"
	"github.com/omnihubio/omnihub/internal/webhook"
)

// InstanceGetter resolves tenant configuration by name.
type InstanceGetter interface {
	Get(ctx context.Context, name string) (instance.Instance, error)
}

// AccessEvaluator decides whether a sender may use an instance.
type AccessEvaluator interface {
	Evaluate(ctx context.Context, instanceName, senderID string) access.Decision
}

// IdentityResolver derives the stable identity triple for a sender.
type IdentityResolver interface {
	Resolve(ctx context.Context, instanceName, senderID, displayName string) (identity.Resolution, error)
}

// AgentCaller performs the timed agent endpoint call.
type AgentCaller interface {
	Call(ctx context.Context, inst instance.Instance, req agent.Request) (agent.Reply, error)
}

// UnitSender delivers formatted send units to the originating channel.
type UnitSender interface {
	SendUnits(ctx context.Context, inst instance.Instance, recipient string, units []string) outbound.SendResult
}

// Options sizes the dispatch lanes and the formatter.
type Options struct {
	Lanes      int
	LaneDepth  int
	ChunkLimit int
}

// Router orchestrates the per-message pipeline: instance validation,
// access control, identity resolution, agent call, formatting and send,
// tracing every stage transition. Ingress hands messages off via Dispatch
// and returns immediately; lanes keyed by (instance, sender) preserve
// per-sender ordering.
type Router struct {
	instances InstanceGetter
	evaluator AccessEvaluator
	resolver  IdentityResolver
	agent     AgentCaller
	sender    UnitSender
	traces    *trace.Service
	logger    *slog.Logger
	opts      Options
	lanes     *lanes
}

func New(
	log *slog.Logger,
	instances InstanceGetter,
	evaluator AccessEvaluator,
	resolver IdentityResolver,
	agentClient AgentCaller,
	sender UnitSender,
	traces *trace.Service,
	opts Options,
) *Router {
	if opts.ChunkLimit <= 0 {
		opts.ChunkLimit = outbound.DefaultChunkLimit
	}
	return &Router{
		instances: instances,
		evaluator: evaluator,
		resolver:  resolver,
		agent:     agentClient,
		sender:    sender,
		traces:    traces,
		logger:    log.With(slog.String("service", "router")),
		opts:      opts,
		lanes:     newLanes(opts.Lanes, opts.LaneDepth),
	}
}

func (r *Router) Start() {
	r.lanes.start()
}

func (r *Router) Stop() {
	r.lanes.stop()
}

// Dispatch begins a trace for the message and queues it on its ordering
// lane. It returns the trace id without waiting for processing.
func (r *Router) Dispatch(ctx context.Context, msg webhook.InboundMessage) (string, error) {
	rec, err := r.traces.Begin(ctx, trace.BeginMeta{
		InstanceName:     msg.InstanceName,
		ChannelMessageID: msg.MessageID,
		SenderID:         identity.NormalizeSender(msg.SenderID),
		SenderName:       msg.SenderName,
		MessageType:      msg.MessageType,
		MessageContent:   msg.Content,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: %w", err)
	}

	key := msg.InstanceName + "|" + identity.NormalizeSender(msg.SenderID)
	err = r.lanes.enqueue(job{
		key: key,
		fn: func(laneCtx context.Context) {
			r.process(laneCtx, msg, rec)
		},
	})
	if err != nil {
		r.logger.Warn("lane rejected message",
			slog.String("instance", msg.InstanceName),
			slog.String("trace_id", rec.TraceID()),
			slog.Any("error", err))
		errText := err.Error()
		rec.Finalize(ctx, trace.StatusUpdate{Status: trace.StatusFailed, Error: &errText})
		return rec.TraceID(), err
	}
	return rec.TraceID(), nil
}

// process runs the pipeline state machine for one message. Agent failures
// degrade to a fallback reply; only instance validation can fail the
// trace here, since normalization happened at ingress.
func (r *Router) process(ctx context.Context, msg webhook.InboundMessage, rec *trace.Recorder) {
	logger := r.logger.With(
		slog.String("instance", msg.InstanceName),
		slog.String("trace_id", rec.TraceID()))

	// validating_instance
	rec.StageStarted(ctx, trace.StageValidatingInstance)
	stageStart := time.Now()
	inst, err := r.instances.Get(ctx, msg.InstanceName)
	if err != nil {
		if !errors.Is(err, instance.ErrNotFound) {
			logger.Error("instance lookup failed", slog.Any("error", err))
		}
		r.fail(ctx, rec, trace.StageValidatingInstance, fmt.Errorf("unknown instance %q: %w", msg.InstanceName, err))
		return
	}
	if !inst.IsActive {
		r.fail(ctx, rec, trace.StageValidatingInstance, fmt.Errorf("instance %q is not active", inst.Name))
		return
	}
	rec.StageCompleted(ctx, trace.StageValidatingInstance, time.Since(stageStart))
	rec.SetStatus(ctx, trace.StatusUpdate{Status: trace.StatusProcessing})

	// access_checking
	rec.StageStarted(ctx, trace.StageAccessChecking)
	stageStart = time.Now()
	decision := r.evaluator.Evaluate(ctx, inst.Name, identity.NormalizeSender(msg.SenderID))
	if decision.Anomaly != nil {
		rec.Anomaly(ctx, trace.StageAccessChecking, decision.Anomaly)
	}
	rec.StageCompleted(ctx, trace.StageAccessChecking, time.Since(stageStart))
	if !decision.Allowed {
		// Blocked senders get no reply at all.
		logger.Info("sender blocked", slog.String("reason", decision.Reason))
		reason := decision.Reason
		rec.Finalize(ctx, trace.StatusUpdate{Status: trace.StatusBlocked, Error: &reason})
		return
	}

	// identity_resolving
	rec.StageStarted(ctx, trace.StageIdentityResolving)
	stageStart = time.Now()
	res, err := r.resolver.Resolve(ctx, inst.Name, msg.SenderID, msg.SenderName)
	if err != nil {
		// Identity is derivable without storage; record and continue.
		rec.Anomaly(ctx, trace.StageIdentityResolving, err)
	}
	rec.StageCompleted(ctx, trace.StageIdentityResolving, time.Since(stageStart))

	// agent_calling: never fails the trace, degrades to fallback text.
	rec.StageStarted(ctx, trace.StageAgentCalling)
	rec.SetStatus(ctx, trace.StatusUpdate{Status: trace.StatusAgentCalled})
	stageStart = time.Now()
	reply, err := r.agent.Call(ctx, inst, agent.BuildRequest(msg, res))
	agentTook := time.Since(stageStart)
	agentMs := agentTook.Milliseconds()
	degraded := false
	replyText := reply.Text
	if err != nil {
		var callErr *agent.CallError
		if !errors.As(err, &callErr) {
			callErr = &agent.CallError{Kind: agent.FailureConnection, Err: err}
		}
		logger.Warn("agent call degraded",
			slog.String("kind", string(callErr.Kind)),
			slog.Any("error", err))
		rec.StageFailed(ctx, trace.StageAgentCalling, callErr)
		replyText = callErr.Fallback()
		degraded = true
	} else {
		rec.StageCompleted(ctx, trace.StageAgentCalling, agentTook)
	}

	// formatting
	rec.StageStarted(ctx, trace.StageFormatting)
	stageStart = time.Now()
	units := outbound.Split(replyText, r.opts.ChunkLimit, inst.EnableAutoSplit)
	rec.StageCompleted(ctx, trace.StageFormatting, time.Since(stageStart))

	// sending
	rec.StageStarted(ctx, trace.StageSending)
	stageStart = time.Now()
	result := r.sender.SendUnits(ctx, inst, msg.SenderID, units)
	if result.Success {
		rec.StageCompleted(ctx, trace.StageSending, time.Since(stageStart))
	} else {
		rec.StageFailed(ctx, trace.StageSending, sendError(result))
	}

	channelSuccess := result.Success
	upd := trace.StatusUpdate{
		Status:          trace.StatusCompleted,
		Degraded:        &degraded,
		ResponseContent: &replyText,
		ChannelSuccess:  &channelSuccess,
		AgentDurationMs: &agentMs,
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		upd.ChannelStatus = &code
	}
	rec.Finalize(ctx, upd)
	logger.Info("message completed",
		slog.Bool("degraded", degraded),
		slog.Bool("channel_success", channelSuccess),
		slog.Int("units", len(units)))
}

func (r *Router) fail(ctx context.Context, rec *trace.Recorder, stage trace.Stage, failErr error) {
	rec.StageFailed(ctx, stage, failErr)
	errText := failErr.Error()
	rec.Finalize(ctx, trace.StatusUpdate{Status: trace.StatusFailed, Error: &errText})
}

func sendError(result outbound.SendResult) error {
	if result.Err != nil {
		return result.Err
	}
	return fmt.Errorf("channel send failed with status %d", result.StatusCode)
}

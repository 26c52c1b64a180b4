package callcontrol

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/directory"
	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/pipeline"
	"github.com/antoniostano/callvoice/internal/protocol"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/tenant"
)

// Controller joins the telephony lifecycle hooks to the session registry. New
// takes over the runner's OnTurn hook.
type Controller struct {
	directory directory.Directory
	registry  *session.Registry
	runner    *pipeline.Runner
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func New(dir directory.Directory, registry *session.Registry, runner *pipeline.Runner, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		directory: dir,
		registry:  registry,
		runner:    runner,
		metrics:   metrics,
		logger:    logger,
	}
	registry.SetRemoveHook(c.onSessionRemoved)
	if runner != nil {
		runner.OnTurn = c.onTurn
	}
	return c
}

// onTurn runs on the session goroutine after each turn. Abandoned turns
// belong to a session that is already gone.
func (c *Controller) onTurn(turn pipeline.Turn) {
	if s, ok := c.registry.Lookup(turn.CallID); ok {
		s.RecordTurn(len(turn.Degraded) > 0)
	}
}

func (c *Controller) Registry() *session.Registry { return c.registry }

func (c *Controller) Directory() directory.Directory { return c.directory }

// OnCallRinging registers an incoming call so a transport may attach to it.
func (c *Controller) OnCallRinging(ctx context.Context, req protocol.CallRingingRequest) (directory.Call, error) {
	if err := req.Normalize(); err != nil {
		return directory.Call{}, err
	}
	call, err := c.directory.RegisterCall(ctx, directory.Call{
		ID:       req.CallID,
		TenantID: req.TenantID,
		From:     req.From,
		To:       req.To,
	})
	if err != nil {
		return directory.Call{}, err
	}
	c.event("ringing")
	c.logger.Info("call ringing",
		zap.String("call_id", call.ID),
		zap.String("tenant_id", call.TenantID),
	)
	return call, nil
}

// OnCallEnded tears down any live session for the call and records the end.
func (c *Controller) OnCallEnded(ctx context.Context, callID string, status directory.Status) error {
	torn := c.registry.Remove(callID, session.ErrCallEnded)
	if err := c.directory.EndCall(ctx, callID, status); err != nil {
		return err
	}
	c.logger.Info("call ended",
		zap.String("call_id", callID),
		zap.String("status", string(status)),
		zap.Bool("session_torn_down", torn),
	)
	return nil
}

// OnDtmfReceived records a keypress. The pipeline does not consume DTMF.
func (c *Controller) OnDtmfReceived(ctx context.Context, callID, digit string) error {
	if err := c.directory.RecordDTMF(ctx, callID, digit); err != nil {
		return err
	}
	c.event("dtmf")
	c.logger.Info("dtmf received", zap.String("call_id", callID), zap.String("digit", digit))
	return nil
}

// Prepare resolves a call and its tenant credentials before a transport is
// accepted. Unknown or finished calls yield ErrSessionNotFound, and a call
// with a live session yields ErrDuplicateSession.
func (c *Controller) Prepare(ctx context.Context, callID string) (directory.Call, tenant.Credentials, error) {
	call, err := c.directory.LookupCall(ctx, callID)
	if errors.Is(err, directory.ErrCallNotFound) {
		return directory.Call{}, tenant.Credentials{}, fmt.Errorf("%w: %s", session.ErrSessionNotFound, callID)
	}
	if err != nil {
		return directory.Call{}, tenant.Credentials{}, err
	}
	if call.Status.Terminal() {
		return directory.Call{}, tenant.Credentials{}, fmt.Errorf("%w: call %s already %s", session.ErrSessionNotFound, callID, call.Status)
	}
	if _, live := c.registry.Lookup(callID); live {
		return directory.Call{}, tenant.Credentials{}, fmt.Errorf("%w: %s", session.ErrDuplicateSession, callID)
	}
	creds, err := c.directory.TenantCredentials(ctx, call.TenantID)
	if err != nil {
		return directory.Call{}, tenant.Credentials{}, fmt.Errorf("%w: tenant credentials: %w", session.ErrSessionNotFound, err)
	}
	return call, creds, nil
}

// Open publishes a session for a prepared call.
func (c *Controller) Open(ctx context.Context, call directory.Call, creds tenant.Credentials, tr session.Transport) (*session.CallSession, error) {
	sess, err := c.registry.Create(call.ID, tr, creds)
	if err != nil {
		return nil, err
	}
	if err := c.directory.MarkConnected(ctx, call.ID); err != nil {
		c.logger.Warn("mark call connected failed", zap.String("call_id", call.ID), zap.Error(err))
	}
	if c.metrics != nil {
		c.metrics.ActiveSessions.Inc()
	}
	c.event("connected")
	c.logger.Info("session opened",
		zap.String("call_id", call.ID),
		zap.String("tenant_id", creds.TenantID),
	)
	return sess, nil
}

// Serve runs the session's processing loop until teardown and then detaches
// it from the registry.
func (c *Controller) Serve(sess *session.CallSession) error {
	cause := c.runner.Run(sess)
	c.registry.Detach(sess, cause)
	return cause
}

func (c *Controller) onSessionRemoved(sess *session.CallSession, cause error) {
	if c.metrics != nil {
		c.metrics.ActiveSessions.Dec()
		if n := sess.Dropped(); n > 0 {
			c.metrics.DroppedFrames.Add(float64(n))
		}
	}
	c.event("closed_" + causeLabel(cause))
	fields := []zap.Field{
		zap.String("call_id", sess.ID()),
		zap.String("cause", causeLabel(cause)),
		zap.Uint64("dropped_frames", sess.Dropped()),
	}
	if errors.Is(cause, session.ErrTransportDisconnected) || errors.Is(cause, session.ErrCallEnded) {
		c.logger.Info("session closed", fields...)
		return
	}
	c.logger.Warn("session closed", append(fields, zap.Error(cause))...)
}

func (c *Controller) event(name string) {
	if c.metrics == nil {
		return
	}
	c.metrics.SessionEvents.WithLabelValues(name).Inc()
}

func causeLabel(err error) string {
	switch {
	case errors.Is(err, session.ErrCallEnded):
		return "call_ended"
	case errors.Is(err, session.ErrTransportDisconnected):
		return "disconnected"
	case errors.Is(err, session.ErrSessionIdle):
		return "idle"
	case errors.Is(err, session.ErrQueueOverflow):
		return "overflow"
	case errors.Is(err, context.Canceled):
		return "shutdown"
	default:
		return "error"
	}
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/reliability"
	"github.com/antoniostano/callvoice/internal/reply"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/tenant"
	"github.com/antoniostano/callvoice/internal/turnlog"
	"github.com/antoniostano/callvoice/internal/vad"
	"github.com/antoniostano/callvoice/internal/voice"
)

// Config bounds each provider stage of a turn.
type Config struct {
	RecognizeTimeout  time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
	DeliverTimeout    time.Duration
	LogTimeout        time.Duration
	FallbackText      string
}

func DefaultConfig() Config {
	return Config{
		RecognizeTimeout:  10 * time.Second,
		GenerateTimeout:   20 * time.Second,
		SynthesizeTimeout: 10 * time.Second,
		DeliverTimeout:    5 * time.Second,
		LogTimeout:        5 * time.Second,
		FallbackText:      reply.DefaultFallbackText,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = d.RecognizeTimeout
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = d.GenerateTimeout
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = d.SynthesizeTimeout
	}
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = d.DeliverTimeout
	}
	if c.LogTimeout <= 0 {
		c.LogTimeout = d.LogTimeout
	}
	if strings.TrimSpace(c.FallbackText) == "" {
		c.FallbackText = d.FallbackText
	}
	return c
}

// Call is the view of a live session the pipeline needs.
type Call interface {
	ID() string
	Context() context.Context
	Credentials() tenant.Credentials
	Transport() session.Transport
}

// Deps are the collaborators a Pipeline drives. Metrics may be nil.
type Deps struct {
	Recognizer  voice.Recognizer
	Generator   reply.Generator
	Synthesizer voice.Synthesizer
	TurnLog     turnlog.Store
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// Pipeline turns one utterance into a delivered reply and two turn-log rows.
// Every stage is attempted once and degrades instead of failing the call.
type Pipeline struct {
	cfg         Config
	recognizer  voice.Recognizer
	generator   reply.Generator
	synthesizer voice.Synthesizer
	turnLog     turnlog.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
}

func New(cfg Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		recognizer:  deps.Recognizer,
		generator:   deps.Generator,
		synthesizer: deps.Synthesizer,
		turnLog:     deps.TurnLog,
		metrics:     deps.Metrics,
		logger:      logger,
	}
}

// Run executes recognize, generate, synthesize, deliver and log for utt.
// It never returns an error; degraded stages are recorded on the Turn.
func (p *Pipeline) Run(call Call, utt vad.Utterance) Turn {
	started := time.Now()
	sessCtx := call.Context()
	creds := call.Credentials()
	turn := Turn{
		ID:        uuid.NewString(),
		CallID:    call.ID(),
		TenantID:  creds.TenantID,
		Frames:    utt.Len(),
		StartedAt: started.UTC(),
		Durations: make(map[string]time.Duration, 6),
	}
	logger := p.logger.With(zap.String("call_id", turn.CallID), zap.String("turn_id", turn.ID))

	// A session torn down before the turn began gets no provider calls.
	if sessCtx.Err() != nil {
		turn.Abandoned = true
		return turn
	}

	turn.Transcript = p.recognize(sessCtx, &turn, utt.PCM(), creds, logger)
	if p.abandoned(sessCtx, &turn, observability.StageRecognize, logger) {
		return turn
	}

	turn.Reply = p.generate(sessCtx, &turn, creds, logger)
	if p.abandoned(sessCtx, &turn, observability.StageGenerate, logger) {
		return turn
	}

	turn.Audio = p.synthesize(sessCtx, &turn, creds.Voice(), logger)
	if p.abandoned(sessCtx, &turn, observability.StageSynthesize, logger) {
		return turn
	}

	p.deliver(sessCtx, &turn, call.Transport(), logger)
	if p.abandoned(sessCtx, &turn, observability.StageDeliver, logger) {
		return turn
	}

	p.log(sessCtx, &turn, logger)

	total := time.Since(started)
	turn.Durations[observability.StageTurnTotal] = total
	p.metrics.ObserveStage(observability.StageTurnTotal, total)
	p.countTurn(turn.Outcome())
	logger.Info("turn completed",
		zap.Int("frames", turn.Frames),
		zap.Int("audio_bytes", len(turn.Audio)),
		zap.Strings("degraded", turn.Degraded),
		zap.Duration("elapsed", total),
	)
	return turn
}

func (p *Pipeline) recognize(sessCtx context.Context, turn *Turn, pcm []byte, creds tenant.Credentials, logger *zap.Logger) string {
	ctx, cancel := context.WithTimeout(sessCtx, p.cfg.RecognizeTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.recognizer.Recognize(ctx, pcm, creds)
	p.observe(turn, observability.StageRecognize, time.Since(start))
	if err != nil {
		turn.degrade(DegradedRecognize)
		p.metrics.ObserveIndicator("empty_transcript")
		if !errors.Is(err, voice.ErrNoSpeechDetected) {
			p.providerError(p.recognizer, err)
			logger.Warn("recognition failed", zap.String("provider", voice.ProviderName(p.recognizer)), zap.Error(err))
		}
		return ""
	}
	return strings.TrimSpace(text)
}

func (p *Pipeline) generate(sessCtx context.Context, turn *Turn, creds tenant.Credentials, logger *zap.Logger) string {
	ctx, cancel := context.WithTimeout(sessCtx, p.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.generator.Generate(ctx, reply.Request{
		CallID:      turn.CallID,
		TurnID:      turn.ID,
		Transcript:  turn.Transcript,
		Credentials: creds,
	})
	p.observe(turn, observability.StageGenerate, time.Since(start))
	if err == nil && strings.TrimSpace(text) == "" {
		err = reply.ErrProviderUnavailable
	}
	if err != nil {
		turn.degrade(DegradedGenerate)
		p.metrics.ObserveIndicator("reply_fallback")
		p.providerError(p.generator, err)
		logger.Warn("reply generation failed, using fallback", zap.String("provider", voice.ProviderName(p.generator)), zap.Error(err))
		return p.cfg.FallbackText
	}
	return strings.TrimSpace(text)
}

func (p *Pipeline) synthesize(sessCtx context.Context, turn *Turn, vc tenant.VoiceConfig, logger *zap.Logger) []byte {
	speakable := voice.SpeakableText(turn.Reply)
	if speakable == "" {
		// Nothing audible is left, e.g. a bare URL. Speak the fallback.
		turn.degrade(DegradedGenerate)
		p.metrics.ObserveIndicator("unspeakable_reply")
		logger.Warn("reply has no speakable text, using fallback", zap.Int("reply_len", len(turn.Reply)))
		turn.Reply = p.cfg.FallbackText
		if speakable = voice.SpeakableText(turn.Reply); speakable == "" {
			turn.degrade(DegradedSynthesize)
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(sessCtx, p.cfg.SynthesizeTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := p.synthesizer.Synthesize(ctx, speakable, vc)
	p.observe(turn, observability.StageSynthesize, time.Since(start))
	if err != nil {
		turn.degrade(DegradedSynthesize)
		p.metrics.ObserveIndicator("synthesis_failed")
		p.providerError(p.synthesizer, err)
		logger.Warn("synthesis failed, delivering no audio", zap.String("provider", voice.ProviderName(p.synthesizer)), zap.Error(err))
		return nil
	}
	return pcm
}

func (p *Pipeline) deliver(sessCtx context.Context, turn *Turn, tr session.Transport, logger *zap.Logger) {
	if tr == nil {
		return
	}
	ctx, cancel := context.WithTimeout(sessCtx, p.cfg.DeliverTimeout)
	defer cancel()

	start := time.Now()
	err := tr.SendAudio(ctx, turn.Audio)
	p.observe(turn, observability.StageDeliver, time.Since(start))
	if err != nil {
		turn.degrade(DegradedDeliver)
		logger.Warn("delivery failed", zap.Error(err))
		return
	}
	turn.Delivered = true
}

// log writes the user and ai rows. Once begun it is detached from session
// cancellation so a hangup does not leave half a turn in the history.
func (p *Pipeline) log(sessCtx context.Context, turn *Turn, logger *zap.Logger) {
	if p.turnLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(sessCtx), p.cfg.LogTimeout)
	defer cancel()

	start := time.Now()
	now := time.Now().UTC()
	rows := []turnlog.Message{
		{CallID: turn.CallID, TenantID: turn.TenantID, TurnID: turn.ID, Role: turnlog.RoleUser, Content: turn.Transcript, CreatedAt: now},
		{CallID: turn.CallID, TenantID: turn.TenantID, TurnID: turn.ID, Role: turnlog.RoleAI, Content: turn.Reply, CreatedAt: now.Add(time.Microsecond)},
	}
	for _, msg := range rows {
		if err := p.turnLog.AppendTurnMessage(ctx, msg); err != nil {
			turn.degrade(DegradedLog)
			p.metrics.ObserveIndicator("log_failed")
			logger.Error("turn log append failed", zap.String("role", string(msg.Role)), zap.Error(err))
			continue
		}
		turn.Logged++
	}
	p.observe(turn, observability.StageLog, time.Since(start))
}

// abandoned stops the turn once the session is gone; nothing after stage may
// reach the caller or the history.
func (p *Pipeline) abandoned(sessCtx context.Context, turn *Turn, stage string, logger *zap.Logger) bool {
	if sessCtx.Err() == nil {
		return false
	}
	turn.Abandoned = true
	p.metrics.ObserveIndicator("turn_abandoned")
	p.countTurn(turn.Outcome())
	logger.Info("turn abandoned after session teardown",
		zap.String("after_stage", stage),
		zap.NamedError("cause", context.Cause(sessCtx)),
	)
	return true
}

func (p *Pipeline) observe(turn *Turn, stage string, d time.Duration) {
	turn.Durations[stage] = d
	p.metrics.ObserveStage(stage, d)
}

func (p *Pipeline) providerError(provider any, err error) {
	p.metrics.ProviderError(voice.ProviderName(provider), reliability.Code(err))
}

func (p *Pipeline) countTurn(outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.Turns.WithLabelValues(outcome).Inc()
}

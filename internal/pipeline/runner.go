package pipeline

import (
	"errors"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/observability"
	"github.com/antoniostano/callvoice/internal/session"
	"github.com/antoniostano/callvoice/internal/vad"
)

// Runner is the per-session processing loop: it classifies frames in arrival
// order, feeds the segmenter and runs the pipeline inline on each boundary, so
// a slow turn holds back that call's frames and no other call's.
type Runner struct {
	classifier vad.Classifier
	pipeline   *Pipeline
	metrics    *observability.Metrics
	logger     *zap.Logger

	// OnTurn, when set, observes each finished turn on the session goroutine.
	OnTurn func(Turn)
}

func NewRunner(classifier vad.Classifier, p *Pipeline, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		classifier: classifier,
		pipeline:   p,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run blocks until the session is torn down and returns the teardown cause.
func (r *Runner) Run(s *session.CallSession) error {
	seg := s.Segmenter()
	logger := r.logger.With(zap.String("call_id", s.ID()))
	defer seg.Reset()

	for {
		select {
		case <-s.Done():
			return r.stop(s, seg, logger)
		case frame := <-s.Frames():
			// select does not prefer Done; a frame still queued at teardown
			// must not start a turn.
			if s.Context().Err() != nil {
				return r.stop(s, seg, logger)
			}
			r.step(s, seg, frame, logger)
		}
	}
}

func (r *Runner) stop(s *session.CallSession, seg *vad.Segmenter, logger *zap.Logger) error {
	if seg.Speaking() {
		logger.Debug("discarding partial utterance",
			zap.String("vad_state", string(seg.State())),
			zap.Int("frames", seg.Buffered()),
		)
	}
	return s.Cause()
}

func (r *Runner) step(s *session.CallSession, seg *vad.Segmenter, frame audio.Frame, logger *zap.Logger) {
	prob, err := r.classifier.Classify(frame)
	if err != nil {
		r.countFrame("invalid")
		if errors.Is(err, audio.ErrInvalidAudioFormat) {
			logger.Debug("dropping malformed frame", zap.Uint64("seq", frame.Seq), zap.Error(err))
		} else {
			logger.Warn("frame classification failed", zap.Uint64("seq", frame.Seq), zap.Error(err))
		}
		return
	}
	if prob > seg.Threshold() {
		r.countFrame("speech")
	} else {
		r.countFrame("silence")
	}

	utt, ok := seg.Push(frame, prob)
	if !ok || s.Context().Err() != nil {
		return
	}
	turn := r.pipeline.Run(s, utt)
	if r.OnTurn != nil {
		r.OnTurn(turn)
	}
}

func (r *Runner) countFrame(result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.Frames.WithLabelValues(result).Inc()
}

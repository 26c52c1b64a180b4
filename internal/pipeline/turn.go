package pipeline

import "time"

// Stages that fell back to their degraded value during a turn.
const (
	DegradedRecognize  = "recognize"
	DegradedGenerate   = "generate"
	DegradedSynthesize = "synthesize"
	DegradedDeliver    = "deliver"
	DegradedLog        = "log"
)

// Turn is the record of one exchange. It is not modified after Run returns.
type Turn struct {
	ID         string                   `json:"id"`
	CallID     string                   `json:"call_id"`
	TenantID   string                   `json:"tenant_id"`
	Frames     int                      `json:"frames"`
	Transcript string                   `json:"transcript"`
	Reply      string                   `json:"reply"`
	Audio      []byte                   `json:"-"`
	Delivered  bool                     `json:"delivered"`
	Logged     int                      `json:"logged"`
	Abandoned  bool                     `json:"abandoned"`
	Degraded   []string                 `json:"degraded,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	Durations  map[string]time.Duration `json:"-"`
}

func (t *Turn) degrade(stage string) {
	for _, s := range t.Degraded {
		if s == stage {
			return
		}
	}
	t.Degraded = append(t.Degraded, stage)
}

func (t Turn) DegradedAt(stage string) bool {
	for _, s := range t.Degraded {
		if s == stage {
			return true
		}
	}
	return false
}

// Outcome labels the turn for metrics.
func (t Turn) Outcome() string {
	switch {
	case t.Abandoned:
		return "abandoned"
	case len(t.Degraded) > 0:
		return "degraded"
	default:
		return "ok"
	}
}

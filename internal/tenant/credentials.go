package tenant

import "strings"

// Credentials are the provider bindings for one tenant. A value is resolved once
// when a call session is created and is never mutated afterwards.
type Credentials struct {
	TenantID string `json:"tenant_id"`

	SpeechKey    string `json:"-"`
	SpeechRegion string `json:"speech_region"`
	Language     string `json:"language"`
	VoiceName    string `json:"voice_name"`

	ReplyAPIKey   string `json:"-"`
	ReplyEndpoint string `json:"reply_endpoint"`
}

// VoiceConfig is the subset of credentials the synthesis port needs.
type VoiceConfig struct {
	TenantID     string
	SpeechKey    string
	SpeechRegion string
	Language     string
	VoiceName    string
}

func (c Credentials) Voice() VoiceConfig {
	return VoiceConfig{
		TenantID:     c.TenantID,
		SpeechKey:    c.SpeechKey,
		SpeechRegion: c.SpeechRegion,
		Language:     c.Language,
		VoiceName:    c.VoiceName,
	}
}

// WithDefaults fills empty fields from fallback.
func (c Credentials) WithDefaults(fallback Credentials) Credentials {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	c.TenantID = pick(c.TenantID, fallback.TenantID)
	c.SpeechKey = pick(c.SpeechKey, fallback.SpeechKey)
	c.SpeechRegion = pick(c.SpeechRegion, fallback.SpeechRegion)
	c.Language = pick(c.Language, fallback.Language)
	c.VoiceName = pick(c.VoiceName, fallback.VoiceName)
	c.ReplyAPIKey = pick(c.ReplyAPIKey, fallback.ReplyAPIKey)
	c.ReplyEndpoint = pick(c.ReplyEndpoint, fallback.ReplyEndpoint)
	return c
}

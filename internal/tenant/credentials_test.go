package tenant

import "testing"

func TestCredentialsWithDefaults(t *testing.T) {
	base := Credentials{
		TenantID:      "default",
		SpeechKey:     "k",
		SpeechRegion:  "japaneast",
		Language:      "ja-JP",
		VoiceName:     "ja-JP-NanamiNeural",
		ReplyAPIKey:   "app-1",
		ReplyEndpoint: "https://dify.example/v1",
	}
	got := Credentials{TenantID: "t1", ReplyAPIKey: "app-2"}.WithDefaults(base)
	if got.TenantID != "t1" || got.ReplyAPIKey != "app-2" {
		t.Fatalf("explicit fields overwritten: %+v", got)
	}
	if got.SpeechRegion != "japaneast" || got.VoiceName != "ja-JP-NanamiNeural" {
		t.Fatalf("defaults not applied: %+v", got)
	}

	v := got.Voice()
	if v.TenantID != "t1" || v.Language != "ja-JP" || v.SpeechKey != "k" {
		t.Fatalf("Voice() = %+v", v)
	}
}

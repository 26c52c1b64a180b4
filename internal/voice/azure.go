package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/callvoice/internal/audio"
	"github.com/antoniostano/callvoice/internal/reliability"
	"github.com/antoniostano/callvoice/internal/tenant"
)

const (
	defaultAzureLanguage = "ja-JP"
	defaultAzureVoice    = "ja-JP-NanamiNeural"
)

// AzureConfig configures the Azure Speech REST adapter. Keys and regions come
// from tenant credentials on each call.
type AzureConfig struct {
	// STTBaseURL and TTSBaseURL override the regional hosts, mainly for tests.
	STTBaseURL string
	TTSBaseURL string
	SampleRate int
	Timeout    time.Duration
}

// AzureSpeech implements Recognizer and Synthesizer over the Azure Speech REST API.
type AzureSpeech struct {
	cfg    AzureConfig
	client *http.Client
	logger *zap.Logger
}

var (
	_ Recognizer  = (*AzureSpeech)(nil)
	_ Synthesizer = (*AzureSpeech)(nil)
)

func NewAzureSpeech(cfg AzureConfig, logger *zap.Logger) *AzureSpeech {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureSpeech{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("azure_speech"),
	}
}

func (a *AzureSpeech) Name() string { return "azure" }

type azureRecognitionResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

func (a *AzureSpeech) Recognize(ctx context.Context, pcm []byte, creds tenant.Credentials) (string, error) {
	if err := requireSpeechCredentials(creds.SpeechKey, creds.SpeechRegion); err != nil {
		return "", err
	}
	if len(pcm) == 0 {
		return "", ErrNoSpeechDetected
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, a.cfg.SampleRate)
	if err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	lang := firstNonEmpty(creds.Language, defaultAzureLanguage)
	q := url.Values{}
	q.Set("language", lang)
	q.Set("format", "simple")
	endpoint := a.sttBase(creds.SpeechRegion) + "/speech/recognition/conversation/cognitiveservices/v1?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", creds.SpeechKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/wav; codecs=audio/pcm; samplerate=%d", a.cfg.SampleRate))
	req.Header.Set("Accept", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return "", reliability.TransportError("azure stt", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.ClassifyHTTPStatus("azure stt", res.StatusCode, body)
	}

	var out azureRecognitionResult
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode azure stt response: %w: %v", reliability.ErrBadResponse, err)
	}

	switch out.RecognitionStatus {
	case "Success":
		text := strings.TrimSpace(out.DisplayText)
		if text == "" {
			return "", ErrNoSpeechDetected
		}
		a.logger.Debug("recognized utterance",
			zap.String("tenant_id", creds.TenantID),
			zap.Int("audio_bytes", len(pcm)),
			zap.Int("text_len", len(text)))
		return text, nil
	case "NoMatch", "InitialSilenceTimeout", "BabbleTimeout":
		return "", fmt.Errorf("%w: azure status %s", ErrNoSpeechDetected, out.RecognitionStatus)
	default:
		return "", fmt.Errorf("azure stt status %q: %w", out.RecognitionStatus, reliability.ErrBadResponse)
	}
}

func (a *AzureSpeech) Synthesize(ctx context.Context, text string, v tenant.VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}
	if err := requireSpeechCredentials(v.SpeechKey, v.SpeechRegion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	ssml, err := buildSSML(text, firstNonEmpty(v.Language, defaultAzureLanguage), firstNonEmpty(v.VoiceName, defaultAzureVoice))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.ttsBase(v.SpeechRegion)+"/cognitiveservices/v1", strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", v.SpeechKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", azureOutputFormat(a.cfg.SampleRate))
	req.Header.Set("User-Agent", "callvoice")

	res, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, reliability.TransportError("azure tts", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: %w", ErrSynthesisFailed, reliability.ClassifyHTTPStatus("azure tts", res.StatusCode, body))
	}

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrSynthesisFailed, err)
	}
	if len(pcm)%audio.BytesPerSample != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

func (a *AzureSpeech) sttBase(region string) string {
	if a.cfg.STTBaseURL != "" {
		return strings.TrimRight(a.cfg.STTBaseURL, "/")
	}
	return fmt.Sprintf("https://%s.stt.speech.microsoft.com", region)
}

func (a *AzureSpeech) ttsBase(region string) string {
	if a.cfg.TTSBaseURL != "" {
		return strings.TrimRight(a.cfg.TTSBaseURL, "/")
	}
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com", region)
}

func azureOutputFormat(sampleRate int) string {
	switch sampleRate {
	case 8000:
		return "raw-8khz-16bit-mono-pcm"
	case 24000:
		return "raw-24khz-16bit-mono-pcm"
	case 48000:
		return "raw-48khz-16bit-mono-pcm"
	default:
		return "raw-16khz-16bit-mono-pcm"
	}
}

func buildSSML(text, lang, voiceName string) (string, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return "", fmt.Errorf("escape ssml: %w", err)
	}
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	b.WriteString(lang)
	b.WriteString(`"><voice name="`)
	b.WriteString(voiceName)
	b.WriteString(`">`)
	b.Write(escaped.Bytes())
	b.WriteString(`</voice></speak>`)
	return b.String(), nil
}

func requireSpeechCredentials(key, region string) error {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(region) == "" {
		return fmt.Errorf("speech key and region are required: %w", ErrInvalidCredentials)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package speech

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

// AzureOption configures the Azure TTS client.
type AzureOption func(*AzureClient)

// WithVoice sets the TTS voice.
func WithVoice(voice string) AzureOption {
	return func(c *AzureClient) {
		c.voice = voice
	}
}

// WithAudioFormat sets the audio output format.
func WithAudioFormat(format string) AzureOption {
	return func(c *AzureClient) {
		c.format = format
	}
}

// WithHTTPTimeout sets the HTTP client timeout for TTS requests.
func WithHTTPTimeout(d time.Duration) AzureOption {
	return func(c *AzureClient) {
		c.httpClient.HTTPClient.Timeout = d
	}
}

// WithRetryMax sets how often a throttled (429) or failed (5xx) request is
// retried before the sentence is reported as failed.
func WithRetryMax(n int) AzureOption {
	return func(c *AzureClient) {
		c.httpClient.RetryMax = n
	}
}

// WithEndpoint overrides the synthesis URL. Tests point it at httptest.
func WithEndpoint(url string) AzureOption {
	return func(c *AzureClient) {
		c.endpoint = url
	}
}

// AzureClient handles text-to-speech synthesis via Azure Cognitive Services.
type AzureClient struct {
	subscriptionKey string
	endpoint        string
	voice           string
	lang            string
	format          string
	httpClient      *retryablehttp.Client
	log             *logger.Logger
}

// Voice returns the configured voice name.
func (c *AzureClient) Voice() string { return c.voice }

// NewAzureClient creates an Azure TTS client with the given credentials.
func NewAzureClient(key, region string, log *logger.Logger, opts ...AzureOption) *AzureClient {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.HTTPClient.Timeout = 30 * time.Second
	// Speech is interactive: one quick retry, then give up.
	rc.RetryMax = 1
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	c := &AzureClient{
		subscriptionKey: key,
		endpoint:        fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region),
		voice:           DefaultVoice,
		lang:            "zh-CN",
		format:          DefaultAudioFormat,
		httpClient:      rc,
		log:             log.Named("azure"),
	}
	for _, opt := range opts {
		opt(c)
	}
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			c.log.Warn("retrying synthesis (attempt %d)", attempt+1)
		}
	}
	return c
}

// Synthesize converts text to speech audio data (WAV bytes). rate and pitch
// use the 1.0-is-default scale of domain.Utterance.
func (c *AzureClient) Synthesize(ctx context.Context, text string, rate, pitch float64) ([]byte, error) {
	ssml := c.buildSSML(text, rate, pitch)
	c.log.Debug("synthesizing %d runes with voice %s", len([]rune(text)), c.voice)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Ocp-Apim-Subscription-Key", c.subscriptionKey)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", c.format)
	req.Header.Set("User-Agent", "TCMVoice/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("azure tts error %d: %s", resp.StatusCode, string(body))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio data: %w", err)
	}

	c.log.Debug("got %d bytes of audio", len(audioData))
	return audioData, nil
}

// buildSSML creates SSML markup for the synthesis request.
func (c *AzureClient) buildSSML(text string, rate, pitch float64) string {
	var escaped bytes.Buffer
	_ = xml.EscapeText(&escaped, []byte(text))
	return fmt.Sprintf(
		`<speak version='1.0' xml:lang='%s'><voice xml:lang='%s' name='%s'><prosody rate='%s' pitch='%s'>%s</prosody></voice></speak>`,
		c.lang, c.lang, c.voice, prosodyRate(rate), prosodyPitch(pitch), escaped.String(),
	)
}

// prosodyRate maps a speed multiplier to an SSML relative rate.
func prosodyRate(rate float64) string {
	if rate <= 0 {
		rate = 1
	}
	return fmt.Sprintf("%+.0f%%", (rate-1)*100)
}

// prosodyPitch maps pitch in [0, 2] to an SSML relative pitch in [-50%, +50%].
func prosodyPitch(pitch float64) string {
	return fmt.Sprintf("%+.0f%%", (pitch-1)*50)
}

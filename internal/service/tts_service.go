package service

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"gopkg.in/vansante/go-ffprobe.v2"
)

const (
	// SpeechOutputFormat is 48 kbps mono MP3 at 24 kHz.
	SpeechOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	speechBitrate      = 48000
	// SynthesisTimeout bounds one page of synthesis.
	SynthesisTimeout = 90 * time.Second
	// fallbackBytesPerSecond estimates duration from SpeechOutputFormat's
	// bitrate when probing fails.
	fallbackBytesPerSecond = speechBitrate / 8

	defaultProsody = "+0%"
)

// durationReader returns the length of an audio file in seconds.
type durationReader func(ctx context.Context, path string) (float64, error)

func ffprobeDuration(ctx context.Context, path string) (float64, error) {
	data, err := ffprobe.ProbeURL(ctx, path)
	if err != nil {
		return 0, err
	}
	if data.Format == nil {
		return 0, fmt.Errorf("ffprobe: no format section for %s", path)
	}
	return data.Format.DurationSeconds, nil
}

// AzureSpeechConfig configures the neural TTS endpoint.
type AzureSpeechConfig struct {
	Key      string
	Region   string
	Endpoint string // overrides the region endpoint, used by tests
	Timeout  time.Duration
}

// AzureSynthesizer speaks page text with Azure neural voices over the REST API.
type AzureSynthesizer struct {
	endpoint string
	key      string
	timeout  time.Duration
	client   *http.Client
	duration durationReader
	logger   domain.Logger
}

func NewAzureSynthesizer(cfg AzureSpeechConfig, logger domain.Logger) *AzureSynthesizer {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = SynthesisTimeout
	}
	return &AzureSynthesizer{
		endpoint: endpoint,
		key:      cfg.Key,
		timeout:  timeout,
		client:   &http.Client{},
		duration: ffprobeDuration,
		logger:   logger,
	}
}

// Synthesize produces MP3 audio for req.Text. Blank text is skipped without
// a network call.
func (s *AzureSynthesizer) Synthesize(ctx context.Context, req domain.SynthesisRequest) (*domain.SynthesisResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return &domain.SynthesisResult{Skipped: true}, nil
	}

	voice := VoiceFor(req.Language, req.Gender)
	ssml, err := buildSSML(req.Text, voice, orDefault(req.Rate), orDefault(req.Volume))
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to build SSML", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type callResult struct {
		audio []byte
		err   error
	}
	done := make(chan callResult, 1)
	go func() {
		audio, err := s.call(ctx, ssml)
		done <- callResult{audio: audio, err: err}
	}()

	var audio []byte
	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, apperrors.NewTimeoutError("speech synthesis timed out", res.err)
			}
			return nil, res.err
		}
		audio = res.audio
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.NewTimeoutError("speech synthesis timed out", ctx.Err())
		}
		return nil, ctx.Err()
	}

	duration, err := s.measure(ctx, req.ScratchDir, audio)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Synthesized page audio", "voice", voice, "bytes", len(audio), "duration", duration)
	return &domain.SynthesisResult{
		Audio:    audio,
		Duration: duration,
		Voice:    voice,
		Format:   SpeechOutputFormat,
	}, nil
}

func (s *AzureSynthesizer) call(ctx context.Context, ssml []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(ssml))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create synthesis request", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", SpeechOutputFormat)
	httpReq.Header.Set("User-Agent", "kitaabse-pipeline")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetworkError("speech service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read synthesized audio", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewRateLimitError("speech service rate limit", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 300:
		return nil, apperrors.NewProcessingError(
			"speech synthesis failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		)
	case len(body) == 0:
		return nil, apperrors.NewProcessingError("speech service returned no audio", nil)
	}
	return body, nil
}

// measure writes audio to a temp file in dir, reads its duration and removes it.
func (s *AzureSynthesizer) measure(ctx context.Context, dir string, audio []byte) (int, error) {
	f, err := os.CreateTemp(dir, "page-*.mp3")
	if err != nil {
		return 0, apperrors.NewInternalError("failed to create temp audio file", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(audio); err != nil {
		f.Close()
		return 0, apperrors.NewInternalError("failed to write temp audio file", err)
	}
	if err := f.Close(); err != nil {
		return 0, apperrors.NewInternalError("failed to close temp audio file", err)
	}

	seconds, err := s.duration(ctx, path)
	if err != nil || seconds <= 0 {
		s.logger.Warn("Audio duration unavailable; estimating from size", "path", path, "error", err)
		return estimateDuration(len(audio)), nil
	}
	return max(1, int(math.Round(seconds))), nil
}

func estimateDuration(size int) int {
	return max(1, size/fallbackBytesPerSecond)
}

func buildSSML(text, voice, rate, volume string) ([]byte, error) {
	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(text)); err != nil {
		return nil, err
	}
	locale := voiceLocale(voice)
	ssml := fmt.Sprintf(
		`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="%s">`+
			`<voice name="%s"><prosody rate="%s" volume="%s">%s</prosody></voice></speak>`,
		locale, voice, rate, volume, escaped.String(),
	)
	return []byte(ssml), nil
}

func orDefault(v string) string {
	if strings.TrimSpace(v) == "" {
		return defaultProsody
	}
	return v
}

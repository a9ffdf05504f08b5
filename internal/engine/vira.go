package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"avanevis/internal/model"
)

// Vira implements STT using the Avanegar (Vira) gateway: one multipart
// request carrying the whole audio, answered synchronously.
type Vira struct {
	token      string
	url        string
	httpClient *http.Client
}

// NewVira creates a new Vira engine.
func NewVira(token, url string) *Vira {
	return &Vira{
		token: token,
		url:   url,
		// The gateway transcribes the whole file before answering, so the
		// client timeout has to cover long recordings.
		httpClient: &http.Client{Timeout: 15 * time.Minute},
	}
}

// Name returns the engine tag.
func (v *Vira) Name() model.EngineName {
	return model.EngineVira
}

// viraResponse mirrors the gateway's nested envelope.
type viraResponse struct {
	Data struct {
		Data struct {
			AIResponse struct {
				Result struct {
					Text string `json:"text"`
				} `json:"result"`
				Segments []struct {
					Text string `json:"text"`
				} `json:"segments"`
				Text string `json:"text"`
			} `json:"aiResponse"`
		} `json:"data"`
	} `json:"data"`
}

// Transcribe sends the audio file to the Vira gateway and extracts the
// transcript from its nested response.
func (v *Vira) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	filename := filepath.Base(audioPath)
	mimeType := "audio/wav"
	modelType := "default"
	if strings.HasSuffix(strings.ToLower(filename), ".mp3") {
		mimeType = "audio/mpeg"
		modelType = "telephony"
	}

	log.Printf("[Vira] Processing audio file: %s, model=%s", audioPath, modelType)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":             modelType,
		"srt":               "false",
		"inverseNormalizer": "false",
		"timestamp":         "false",
		"spokenPunctuation": "false",
		"punctuation":       "true",
		"numSpeakers":       "0",
		"diarize":           "true",
	}
	for k, val := range fields {
		if err := writer.WriteField(k, val); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to copy audio into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("gateway-token", v.token)
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to Vira: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("[Vira] API error: status %d, body: %s", resp.StatusCode, string(body))
		return &Result{RawResponse: string(body)}, fmt.Errorf("vira returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed viraResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &Result{RawResponse: string(body)}, fmt.Errorf("failed to parse Vira response: %w", err)
	}

	ai := parsed.Data.Data.AIResponse
	text := ai.Result.Text
	if text == "" && len(ai.Segments) > 0 {
		parts := make([]string, 0, len(ai.Segments))
		for _, seg := range ai.Segments {
			if seg.Text != "" {
				parts = append(parts, seg.Text)
			}
		}
		text = strings.Join(parts, " ")
	}
	if text == "" {
		text = ai.Text
	}

	log.Printf("[Vira] Transcription done, length=%d", len(text))
	return &Result{Text: text, RawResponse: string(body)}, nil
}

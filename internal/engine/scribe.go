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
	"os"
	"path/filepath"
	"strings"
	"time"

	"avanevis/internal/model"
)

// Scribe implements STT through the Metis gateway in front of the
// ElevenLabs scribe model. Three-step flow: upload the audio to the
// gateway storage, start a generation task, poll the task until it
// completes.
type Scribe struct {
	token       string
	storageURL  string
	generateURL string
	httpClient  *http.Client

	pollInterval time.Duration
	maxPolls     int
}

// NewScribe creates a new Scribe engine.
func NewScribe(token, storageURL, generateURL string) *Scribe {
	return &Scribe{
		token:        token,
		storageURL:   storageURL,
		generateURL:  generateURL,
		httpClient:   &http.Client{Timeout: 15 * time.Minute},
		pollInterval: 5 * time.Second,
		maxPolls:     60,
	}
}

// Name returns the engine tag.
func (s *Scribe) Name() model.EngineName {
	return model.EngineScribe
}

type scribeUploadResponse struct {
	Files []struct {
		URL string `json:"url"`
	} `json:"files"`
}

type scribeGenerateResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Generations []struct {
		Content string `json:"content"`
		Text    string `json:"text"`
		URL     string `json:"url"`
	} `json:"generations"`
}

// Transcribe uploads the audio, starts a generation task and polls for
// its result.
func (s *Scribe) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	log.Printf("[Scribe] Processing audio file: %s", audioPath)

	audioURL, err := s.upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	log.Printf("[Scribe] File uploaded")

	taskID, err := s.generate(ctx, audioURL)
	if err != nil {
		return nil, err
	}
	log.Printf("[Scribe] Task started: %s", taskID)

	return s.poll(ctx, taskID)
}

// upload pushes the audio to the gateway storage and returns its URL.
func (s *Scribe) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy audio into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.storageURL, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := s.send(req)
	if err != nil {
		return "", fmt.Errorf("scribe upload failed: %w", err)
	}

	var resp scribeUploadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if len(resp.Files) == 0 || resp.Files[0].URL == "" {
		return "", fmt.Errorf("scribe upload: no audio URL returned")
	}
	return resp.Files[0].URL, nil
}

// generate starts the STT generation task for an uploaded file.
func (s *Scribe) generate(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{
		"model": map[string]string{
			"name":  "elevenlabs",
			"model": "scribe_v1",
		},
		"operation": "STT",
		"args": map[string]string{
			"url": audioURL,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.generateURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	body, err := s.send(req)
	if err != nil {
		return "", fmt.Errorf("scribe generate failed: %w", err)
	}

	var resp scribeGenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse generate response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("scribe generate: no task id returned")
	}
	return resp.ID, nil
}

// poll checks the generation task until it completes, errors out, or the
// context is cancelled.
func (s *Scribe) poll(ctx context.Context, taskID string) (*Result, error) {
	pollURL := strings.TrimRight(s.generateURL, "/") + "/" + taskID

	for i := 0; i < s.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create poll request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.token)

		body, err := s.send(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Scribe] Poll attempt %d failed: %v", i+1, err)
			continue
		}

		var resp scribeGenerateResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			log.Printf("[Scribe] Poll attempt %d: unparsable response", i+1)
			continue
		}

		switch resp.Status {
		case "COMPLETED":
			return s.extract(ctx, &resp, body)
		case "ERROR":
			return &Result{RawResponse: string(body)}, fmt.Errorf("scribe task failed: %s", string(body))
		}
	}

	return nil, fmt.Errorf("scribe polling timed out after %d attempts", s.maxPolls)
}

// extract pulls the transcript out of a completed generation, following
// the result URL when the gateway returns the text as a file link.
func (s *Scribe) extract(ctx context.Context, resp *scribeGenerateResponse, raw []byte) (*Result, error) {
	if len(resp.Generations) == 0 {
		return &Result{RawResponse: string(raw)}, fmt.Errorf("scribe task completed without generations")
	}

	gen := resp.Generations[0]
	text := gen.Content
	if text == "" {
		text = gen.Text
	}

	if text == "" && gen.URL != "" {
		log.Printf("[Scribe] Result is a file link, downloading content")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, gen.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create result download request: %w", err)
		}
		body, err := s.send(req)
		if err != nil {
			return nil, fmt.Errorf("failed to download result text: %w", err)
		}
		text = strings.Trim(strings.TrimSpace(string(body)), `"`)
	}

	log.Printf("[Scribe] Transcription done, length=%d", len(text))
	return &Result{Text: text, RawResponse: string(raw)}, nil
}

// send executes a request and returns the body of a 2xx response.
func (s *Scribe) send(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

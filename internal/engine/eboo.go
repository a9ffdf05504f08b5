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

// Eboo implements STT using the Eboo OCR/ASR gateway. The flow is
// three-step: upload the file (addfile), start the conversion (convert),
// then poll checkconvert until the gateway reports a result.
type Eboo struct {
	token      string
	url        string
	httpClient *http.Client

	pollInterval time.Duration
	maxPolls     int
}

// NewEboo creates a new Eboo engine.
func NewEboo(token, url string) *Eboo {
	return &Eboo{
		token:        token,
		url:          url,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		pollInterval: 2 * time.Second,
		maxPolls:     60,
	}
}

// Name returns the engine tag.
func (e *Eboo) Name() model.EngineName {
	return model.EngineEboo
}

// ebooResponse covers the fields of all three gateway commands. The
// gateway is inconsistent about the casing of the file token key.
type ebooResponse struct {
	FileToken      string `json:"FileToken"`
	FileTokenLower string `json:"filetoken"`
	Status         string `json:"Status"`
	Output         string `json:"Output"`
}

// Transcribe uploads the audio, starts the conversion and polls for the
// extracted text.
func (e *Eboo) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	log.Printf("[Eboo] Processing audio file: %s", audioPath)

	fileToken, err := e.addFile(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	if err := e.startConvert(ctx, fileToken); err != nil {
		return nil, err
	}

	return e.pollConvert(ctx, fileToken)
}

// addFile uploads the audio and returns the gateway file token.
func (e *Eboo) addFile(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("token", e.token); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.WriteField("command", "addfile"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := writer.CreateFormFile("filehandle", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to copy audio into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create addfile request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := e.send(req)
	if err != nil {
		return "", fmt.Errorf("eboo addfile failed: %w", err)
	}

	var resp ebooResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse addfile response: %w", err)
	}

	token := resp.FileToken
	if token == "" {
		token = resp.FileTokenLower
	}
	if token == "" {
		return "", fmt.Errorf("eboo addfile: file token missing in response")
	}

	log.Printf("[Eboo] File uploaded, token obtained")
	return token, nil
}

// startConvert asks the gateway to begin converting the uploaded file.
func (e *Eboo) startConvert(ctx context.Context, fileToken string) error {
	if _, err := e.postJSON(ctx, map[string]string{
		"token":     e.token,
		"command":   "convert",
		"filetoken": fileToken,
		"language":  "fa",
	}); err != nil {
		return fmt.Errorf("eboo convert failed: %w", err)
	}
	return nil
}

// pollConvert polls checkconvert until the conversion finishes, fails, or
// the context is cancelled.
func (e *Eboo) pollConvert(ctx context.Context, fileToken string) (*Result, error) {
	for i := 0; i < e.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}

		body, err := e.postJSON(ctx, map[string]string{
			"token":     e.token,
			"command":   "checkconvert",
			"filetoken": fileToken,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Eboo] Poll attempt %d failed: %v", i+1, err)
			continue
		}

		var resp ebooResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			log.Printf("[Eboo] Poll attempt %d: unparsable response", i+1)
			continue
		}

		switch resp.Status {
		case "ConvertFinished":
			text := strings.TrimSpace(resp.Output)
			log.Printf("[Eboo] Conversion finished, length=%d", len(text))
			return &Result{Text: text, RawResponse: string(body)}, nil
		case "ConvertFailed", "Error":
			return &Result{RawResponse: string(body)}, fmt.Errorf("eboo conversion failed: %s", string(body))
		}
	}

	return nil, fmt.Errorf("eboo polling timed out after %d attempts", e.maxPolls)
}

// postJSON sends one JSON command to the gateway.
func (e *Eboo) postJSON(ctx context.Context, payload map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return e.send(req)
}

// send executes a request and returns the body of a 2xx response.
func (e *Eboo) send(req *http.Request) ([]byte, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

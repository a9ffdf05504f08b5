package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestScribeTranscribe drives the upload/generate/poll flow against a
// fake gateway, with one in-progress poll round before completion.
func TestScribeTranscribe(t *testing.T) {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("/storage", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer scribe-token" {
			t.Errorf("storage auth = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse upload: %v", err)
		}
		if _, _, err := r.FormFile("files"); err != nil {
			t.Errorf("upload missing files part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{{"url": "https://files.example/audio.mp3"}},
		})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Operation string `json:"operation"`
			Model     struct {
				Name  string `json:"name"`
				Model string `json:"model"`
			} `json:"model"`
			Args struct {
				URL string `json:"url"`
			} `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode generate payload: %v", err)
		}
		if payload.Operation != "STT" || payload.Model.Model != "scribe_v1" {
			t.Errorf("unexpected generate payload: %+v", payload)
		}
		if payload.Args.URL != "https://files.example/audio.mp3" {
			t.Errorf("generate url = %q", payload.Args.URL)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "task-7"})
	})
	mux.HandleFunc("/generate/task-7", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			json.NewEncoder(w).Encode(map[string]string{"status": "IN_PROGRESS"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "COMPLETED",
			"generations": []map[string]string{
				{"content": "متن پیاده شده"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewScribe("scribe-token", srv.URL+"/storage", srv.URL+"/generate")
	s.pollInterval = 10 * time.Millisecond

	res, err := s.Transcribe(t.Context(), writeTestAudio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "متن پیاده شده" {
		t.Fatalf("text = %q", res.Text)
	}
	if polls < 2 {
		t.Fatalf("poll rounds = %d, want at least 2", polls)
	}
}

// TestScribeResultAsFileLink verifies the transcript is downloaded when
// the completed generation only carries a URL.
func TestScribeResultAsFileLink(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/storage", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{{"url": "https://files.example/a.mp3"}},
		})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "task-9"})
	})
	mux.HandleFunc("/generate/task-9", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "COMPLETED",
			"generations": []map[string]string{
				{"url": srvURL + "/result.txt"},
			},
		})
	})
	mux.HandleFunc("/result.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\"downloaded text\"\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	s := NewScribe("scribe-token", srv.URL+"/storage", srv.URL+"/generate")
	s.pollInterval = 10 * time.Millisecond

	res, err := s.Transcribe(t.Context(), writeTestAudio(t))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "downloaded text" {
		t.Fatalf("text = %q, want unquoted download", res.Text)
	}
}

// TestScribeTaskError verifies an ERROR status ends polling with an error.
func TestScribeTaskError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/storage", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]string{{"url": "https://files.example/a.mp3"}},
		})
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "task-err"})
	})
	mux.HandleFunc("/generate/task-err", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ERROR", "error": "bad audio"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewScribe("scribe-token", srv.URL+"/storage", srv.URL+"/generate")
	s.pollInterval = 10 * time.Millisecond

	_, err := s.Transcribe(t.Context(), writeTestAudio(t))
	if err == nil || !strings.Contains(err.Error(), "scribe task failed") {
		t.Fatalf("expected task failure error, got %v", err)
	}
}

package storage

import (
	"fmt"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// AudioStore saves uploaded audio files on local disk. The returned path
// is what jobs carry as their input reference; the queue core never
// opens the file itself, only the engine adapters do.
type AudioStore struct {
	dir string
}

// NewAudioStore creates the upload directory if needed.
func NewAudioStore(dir string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &AudioStore{dir: dir}, nil
}

// SaveAudio saves an uploaded audio file and returns its path.
func (s *AudioStore) SaveAudio(jobID uuid.UUID, file *multipart.FileHeader) (string, error) {
	ext := filepath.Ext(file.Filename)
	dst := filepath.Join(s.dir, jobID.String()+ext)

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open uploaded file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(src); err != nil {
		return "", fmt.Errorf("failed to save file data: %w", err)
	}

	return dst, nil
}

// Remove deletes a stored audio file. Best-effort: a missing file is not
// an error.
func (s *AudioStore) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Storage] Failed to remove audio file %s: %v", path, err)
	}
}

package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// AudioAPI is the speech-to-text service behind audio transcription.
type AudioAPI interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Transcriber turns an interview recording or transcript file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// FileTranscriber reads an already-transcribed text file.
type FileTranscriber struct{}

func (FileTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

// AudioTranscriber sends a recording to the speech-to-text API and caches
// the result as a .txt file next to the recording, so reruns skip the API.
type AudioTranscriber struct {
	api    AudioAPI
	logger *slog.Logger
}

func NewAudioTranscriber(api AudioAPI, logger *slog.Logger) *AudioTranscriber {
	return &AudioTranscriber{api: api, logger: logger}
}

func (t *AudioTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	txtPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
	if data, err := os.ReadFile(txtPath); err == nil {
		t.logger.Info("using cached transcript", "path", txtPath)
		return string(data), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	text, err := t.api.Transcribe(ctx, f, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filepath.Base(path), err)
	}

	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		t.logger.Warn("save transcript", "path", txtPath, "error", err)
	}
	return text, nil
}

// ForPath picks a transcriber by file extension: .txt files are read
// directly, anything else is treated as a recording.
func ForPath(path string, api AudioAPI, logger *slog.Logger) Transcriber {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return FileTranscriber{}
	}
	return NewAudioTranscriber(api, logger)
}

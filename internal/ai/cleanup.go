package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Cleaner polishes raw speech-to-text output with OpenAI: recognition
// glitches, stutters and missing punctuation, without rewriting what the
// speaker actually said.
type Cleaner struct {
	client *openai.Client
	model  string
}

// NewCleaner creates a transcript cleaner.
func NewCleaner(apiKey string) *Cleaner {
	return &Cleaner{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

const cleanupSystemPrompt = `You clean up raw Persian speech-to-text transcripts.

RULES:
- Fix recognition errors, stutters and broken sentences
- Add punctuation and paragraph breaks
- Keep the speaker's wording and intent; do not summarize, do not add anything
- Keep technical terms and proper names as spoken
- Reply with the cleaned transcript only, no commentary`

// Clean returns a cleaned version of the transcript.
func (c *Cleaner) Clean(ctx context.Context, transcript string) (string, error) {
	log.Printf("[AI] Cleaning transcript, length=%d", len(transcript))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cleanupSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("transcript cleanup request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("transcript cleanup returned no choices")
	}

	cleaned := strings.TrimSpace(resp.Choices[0].Message.Content)
	if cleaned == "" {
		return "", fmt.Errorf("transcript cleanup returned empty text")
	}

	log.Printf("[AI] Cleanup done, length=%d", len(cleaned))
	return cleaned, nil
}

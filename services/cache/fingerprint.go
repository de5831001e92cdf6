package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/upb/tavern-oracle/models"
	"github.com/upb/tavern-oracle/services/providers"
)

// Fingerprint returns a stable cache key for a request. The request is encoded
// as JSON built from maps only, so every object's keys are emitted sorted and
// option ordering can never change the key. Message timestamps and the
// request ID are not part of the request identity.
func Fingerprint(messages []providers.Message, options models.GenerationOptions) string {
	msgs := make([]map[string]any, len(messages))
	for i, m := range messages {
		msgs[i] = map[string]any{
			"content": m.Content,
			"role":    m.Role,
		}
	}

	canonical := map[string]any{
		"max_tokens":         options.MaxTokens,
		"messages":           msgs,
		"preferred_provider": options.PreferredProvider,
		"system_prompt":      options.SystemPrompt,
		"temperature":        options.Temperature,
	}

	// Only non-finite temperatures fail to marshal; validation rejects them upstream
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

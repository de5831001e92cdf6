// Package local implements the always-available fallback provider. It answers
// from a fixed table of in-character lines and never touches the network.
package local

import (
	"context"
	"hash/fnv"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/upb/tavern-oracle/services/providers"
)

// Model is the model name reported for locally generated responses
const Model = "keyword-matcher"

type topic struct {
	name     string
	keywords []string
	lines    []string
}

// Topics are checked in order; the first one with a matching keyword wins.
var topics = []topic{
	{
		name:     "greeting",
		keywords: []string{"hello", "hi", "hey", "greetings", "good morning", "good evening", "well met"},
		lines: []string{
			"Well met, traveller! Pull up a stool by the fire.",
			"Ah, a new face! Welcome to the tavern, friend.",
			"Greetings! Mind the puddle by the door, the roof leaks again.",
		},
	},
	{
		name:     "weather",
		keywords: []string{"weather", "rain", "storm", "snow", "sun", "wind"},
		lines: []string{
			"Weather's been foul all week. Good for business, though.",
			"The old sailors say a storm is rolling in from the east.",
		},
	},
	{
		name:     "news",
		keywords: []string{"news", "rumour", "rumor", "gossip", "heard", "happening"},
		lines: []string{
			"They say the miller's boy saw lights in the old watchtower.",
			"Word is the king's tax collectors will be here before the moon turns.",
			"A merchant swore he saw a dragon over the northern pass. Too much ale, if you ask me.",
		},
	},
	{
		name:     "drink",
		keywords: []string{"drink", "ale", "beer", "wine", "mead", "thirsty"},
		lines: []string{
			"One ale, coming right up. Two coppers, if you please.",
			"Try the honey mead. Brewed it myself last autumn.",
		},
	},
	{
		name:     "food",
		keywords: []string{"food", "eat", "hungry", "stew", "bread", "meal"},
		lines: []string{
			"There's rabbit stew on the fire and bread fresh this morning.",
			"Hungry? The cook's mutton pie will fix that.",
		},
	},
	{
		name:     "goodbye",
		keywords: []string{"bye", "farewell", "leaving", "see you", "goodnight"},
		lines: []string{
			"Safe travels, friend. The door's always open.",
			"Farewell! Come back with good stories.",
		},
	},
	{
		name:     "room",
		keywords: []string{"room", "bed", "sleep", "stay", "night"},
		lines: []string{
			"A room for the night is five silver. Breakfast included.",
			"We've one bed left upstairs, second door on the left.",
		},
	},
	{
		name:     "quest",
		keywords: []string{"quest", "work", "job", "task", "adventure", "bounty"},
		lines: []string{
			"Check the notice board by the hearth. Someone always needs a sword.",
			"The blacksmith's been looking for someone to clear the wolves from the east road.",
		},
	},
}

var genericLines = []string{
	"The innkeeper nods slowly, seeming distracted by something across the room.",
	"\"Hm? Sorry, friend, it's loud in here tonight. What was that?\"",
	"The barkeep wipes a mug and gives you a thoughtful look.",
}

// Responder is the deterministic keyword-matching fallback provider
type Responder struct {
	now func() time.Time
}

// NewResponder creates a new local responder
func NewResponder() *Responder {
	return &Responder{now: time.Now}
}

// Name returns the fallback provider name
func (r *Responder) Name() string {
	return providers.LocalFallbackName
}

// ChatCompletion answers the latest user message from the canned line table
func (r *Responder) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	var messages []providers.Message
	if req != nil {
		messages = req.Messages
	}

	return &providers.ChatResponse{
		ID:       "local-" + uuid.NewString(),
		Model:    Model,
		Provider: providers.LocalFallbackName,
		Choices: []providers.Choice{
			{
				Message:      providers.Message{Role: providers.RoleAssistant, Content: Reply(messages)},
				FinishReason: "stop",
			},
		},
		Created: r.now(),
	}, nil
}

// IsAvailable always returns true
func (r *Responder) IsAvailable(ctx context.Context) bool {
	return true
}

// Reply picks a line for the most recent user message. The same text always
// yields the same line.
func Reply(messages []providers.Message) string {
	text := strings.ToLower(latestUserContent(messages))
	if t := match(text); t != nil {
		return pick(t.lines, text)
	}
	return pick(genericLines, text)
}

// Topic returns the name of the topic matched by text, or "generic"
func Topic(text string) string {
	if t := match(strings.ToLower(text)); t != nil {
		return t.name
	}
	return "generic"
}

// match compares whole words, so "they" does not count as "hey". Multi-word
// keywords must appear as consecutive words.
func match(text string) *topic {
	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}
	for i := range topics {
		for _, kw := range topics[i].keywords {
			if containsPhrase(words, strings.Fields(kw)) {
				return &topics[i]
			}
		}
	}
	return nil
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		if slices.Equal(words[i:i+len(phrase)], phrase) {
			return true
		}
	}
	return false
}

func latestUserContent(messages []providers.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == providers.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func pick(lines []string, seed string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return lines[h.Sum32()%uint32(len(lines))]
}

var _ providers.Provider = (*Responder)(nil)

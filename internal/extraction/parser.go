package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iammorganparry/hindsight/internal/models"
)

type extractionPayload struct {
	Facts []rawFact `json:"facts"`
}

type rawFact struct {
	Text     string       `json:"text"`
	FactType string       `json:"factType"`
	Mentions []rawMention `json:"mentions"`
}

type rawMention struct {
	Surface string `json:"surface"`
	Type    string `json:"type"`
}

// ParseResponse parses the raw LLM response into facts. Markdown code
// fences are tolerated; malformed facts are dropped, not fatal.
func ParseResponse(raw string) ([]Fact, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, nil
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		// Some models return the bare array.
		var facts []rawFact
		if err2 := json.Unmarshal([]byte(cleaned), &facts); err2 != nil {
			return nil, fmt.Errorf("parse extraction response: %w", err)
		}
		payload.Facts = facts
	}

	out := make([]Fact, 0, len(payload.Facts))
	for _, rf := range payload.Facts {
		text := strings.TrimSpace(rf.Text)
		if text == "" {
			continue
		}
		factType := models.FactType(strings.ToLower(strings.TrimSpace(rf.FactType)))
		if !models.ValidFactType(factType) || factType == "" {
			factType = models.FactWorld
		}

		mentions := make([]Mention, 0, len(rf.Mentions))
		for _, rm := range rf.Mentions {
			surface := strings.TrimSpace(rm.Surface)
			if surface == "" {
				continue
			}
			mentions = append(mentions, Mention{
				Surface: surface,
				Type:    models.NormalizeEntityType(strings.ToUpper(strings.TrimSpace(rm.Type))),
			})
		}

		out = append(out, Fact{Text: text, FactType: factType, Mentions: mentions})
	}
	return out, nil
}

// stripCodeFence removes markdown code block wrappers (```json ... ```).
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

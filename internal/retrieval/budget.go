package retrieval

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter reports BPE token counts. Tests stub it; production uses
// the cl100k_base encoding via Tiktoken.
type TokenCounter interface {
	Count(text string) int
}

// Tiktoken counts tokens with the declared cl100k_base encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// BudgetFilter admits ranked candidates while their cumulative text token
// count stays within maxTokens, stopping at the first overflow. Order is
// preserved.
type BudgetFilter struct {
	counter TokenCounter
}

func NewBudgetFilter(counter TokenCounter) *BudgetFilter {
	return &BudgetFilter{counter: counter}
}

// Apply truncates scored candidates to the token budget. Token counts per
// admitted unit are returned alongside for the response metadata.
func (b *BudgetFilter) Apply(candidates []scoredUnit, maxTokens int) ([]scoredUnit, []int) {
	if maxTokens <= 0 {
		return nil, nil
	}

	var admitted []scoredUnit
	var tokens []int
	total := 0
	for _, c := range candidates {
		n := b.counter.Count(c.unit.Text)
		if total+n > maxTokens {
			break
		}
		total += n
		admitted = append(admitted, c)
		tokens = append(tokens, n)
	}
	return admitted, tokens
}

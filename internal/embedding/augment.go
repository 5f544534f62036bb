package embedding

import (
	"fmt"
	"time"
)

// AugmentDate prefixes text with a human-readable form of its event date.
// Both the embedder and the reranker see this form, so date-constrained
// queries score date-distant units lower.
func AugmentDate(text string, date time.Time) string {
	return fmt.Sprintf("[Date: %s (%s)] %s",
		date.Format("January 2, 2006"), date.Format("2006-01-02"), text)
}

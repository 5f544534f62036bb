package retrieval

import (
	"math"
	"time"

	"github.com/iammorganparry/hindsight/internal/models"
)

// recencyScore decays with a one-year logarithmic half-life.
func recencyScore(eventDate, now time.Time) float64 {
	days := now.Sub(eventDate).Hours() / 24
	if days < 0 {
		days = 0
	}
	return 1.0 / (1.0 + math.Log(1.0+days/365.0))
}

// frequencyScore saturates at ten accesses.
func frequencyScore(accessCount int) float64 {
	score := math.Log(float64(accessCount)+1.0) / math.Log(10.0)
	if score > 1 {
		score = 1
	}
	return score
}

// finalWeight linearly combines the four ranking signals.
func finalWeight(w models.Weights, activation, semanticSim, recency, frequency float64) float64 {
	return w.Activation*activation + w.Semantic*semanticSim + w.Recency*recency + w.Frequency*frequency
}

package usecase

import "github.com/akarpov/archivarius/internal/core/domain"

// Decision is the confidence router's verdict for one stage result.
type Decision string

const (
	DecisionAdvance Decision = "advance"
	DecisionReview  Decision = "review"
)

// Route maps a stage's confidence score to a routing decision. Pure function,
// no side effects. A score exactly equal to the threshold passes.
func Route(_ domain.Stage, score, threshold float64) Decision {
	if score >= threshold {
		return DecisionAdvance
	}
	return DecisionReview
}

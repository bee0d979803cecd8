package services

import (
	"math"
	"time"

	"chatload/models"
)

// TargetAt returns how many virtual users the profile wants after elapsed.
// Each stage ramps linearly from the previous stage's target (0 before the
// first) to its own; past the last stage the last target holds.
func TargetAt(stages []models.Stage, elapsed time.Duration) int {
	if len(stages) == 0 || elapsed <= 0 {
		return 0
	}

	from := 0
	var stageStart time.Duration
	for _, st := range stages {
		d := st.Duration.Duration
		if elapsed < stageStart+d {
			frac := float64(elapsed-stageStart) / float64(d)
			value := float64(from) + float64(st.Target-from)*frac
			return int(math.Floor(value))
		}
		from = st.Target
		stageStart += d
	}

	return stages[len(stages)-1].Target
}

// StageIndex returns the zero-based stage active at elapsed, or len(stages)
// once the profile is over.
func StageIndex(stages []models.Stage, elapsed time.Duration) int {
	var stageStart time.Duration
	for i, st := range stages {
		stageStart += st.Duration.Duration
		if elapsed < stageStart {
			return i
		}
	}
	return len(stages)
}

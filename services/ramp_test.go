package services

import (
	"testing"
	"time"

	"chatload/models"

	"github.com/stretchr/testify/assert"
)

func stage(d time.Duration, target int) models.Stage {
	return models.Stage{Duration: models.Duration{Duration: d}, Target: target}
}

func TestTargetAt(t *testing.T) {
	stages := []models.Stage{
		stage(time.Minute, 1000),
		stage(2*time.Minute, 1000),
		stage(time.Minute, 0),
	}

	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{-time.Second, 0},
		{0, 0},
		{30 * time.Second, 500},
		{59 * time.Second, 983},
		{time.Minute, 1000},
		{2 * time.Minute, 1000},
		{3*time.Minute + 30*time.Second, 500},
		{4 * time.Minute, 0},
		{time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.elapsed.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TargetAt(stages, tt.elapsed))
		})
	}
}

func TestTargetAtFloorsFractions(t *testing.T) {
	stages := []models.Stage{stage(3*time.Second, 10)}

	assert.Equal(t, 3, TargetAt(stages, time.Second))
	assert.Equal(t, 6, TargetAt(stages, 2*time.Second))
	assert.Equal(t, 10, TargetAt(stages, 3*time.Second))
}

func TestTargetAtHoldsLastTarget(t *testing.T) {
	stages := []models.Stage{stage(time.Second, 4), stage(time.Second, 8)}

	assert.Equal(t, 6, TargetAt(stages, 1500*time.Millisecond))
	assert.Equal(t, 8, TargetAt(stages, 10*time.Second))
	assert.Equal(t, 0, TargetAt(nil, time.Second))
}

func TestTargetAtDefaultProfile(t *testing.T) {
	stages := models.DefaultStages()

	assert.Equal(t, 500, TargetAt(stages, time.Minute))
	assert.Equal(t, 1000, TargetAt(stages, 2*time.Minute))
	assert.Equal(t, 1900, TargetAt(stages, 4*time.Minute))
	assert.Equal(t, 2800, TargetAt(stages, 8*time.Minute))
	assert.Equal(t, 1400, TargetAt(stages, 11*time.Minute))
	assert.Equal(t, 0, TargetAt(stages, 12*time.Minute))
}

func TestStageIndex(t *testing.T) {
	stages := []models.Stage{stage(time.Second, 1), stage(time.Second, 2)}

	assert.Equal(t, 0, StageIndex(stages, 0))
	assert.Equal(t, 0, StageIndex(stages, 999*time.Millisecond))
	assert.Equal(t, 1, StageIndex(stages, time.Second))
	assert.Equal(t, 2, StageIndex(stages, 2*time.Second))
}

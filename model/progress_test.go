package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateProgressPercentTerminalPhasesAlwaysReport100(t *testing.T) {
	assert.Equal(t, 100, CalculateProgressPercent(PhaseDone, 10, 10))
	assert.Equal(t, 100, CalculateProgressPercent(PhaseError, 2, 10), "a failed job still finalizes at 100")
	assert.Equal(t, 100, CalculateProgressPercent(PhaseCancelled, 0, 10))
}

func TestCalculateProgressPercentFollowsFloorInvariant(t *testing.T) {
	assert.Equal(t, 0, CalculateProgressPercent(PhaseAnalyzing, 0, 10))
	assert.Equal(t, 0, CalculateProgressPercent(PhaseAnalyzing, 0, 0), "no total known yet")
	assert.Equal(t, 50, CalculateProgressPercent(PhaseAnalyzing, 5, 10))
	assert.Equal(t, 30, CalculateProgressPercent(PhaseAnalyzing, 3, 10))
}

func TestCalculateProgressPercentCapsAt99BeforeFinalize(t *testing.T) {
	assert.Equal(t, 99, CalculateProgressPercent(PhaseAnalyzing, 10, 10), "completed == total but not yet finalized")
	assert.Equal(t, 99, CalculateProgressPercent(PhaseAnalyzing, 50, 10), "more completed reported than total shouldn't blow past the cap")
}

func TestUpdateAvgChunkSecondsRunningMean(t *testing.T) {
	avg := UpdateAvgChunkSeconds(0, 1, 10)
	assert.Equal(t, 10.0, avg)

	avg = UpdateAvgChunkSeconds(avg, 2, 20)
	assert.Equal(t, 15.0, avg)

	avg = UpdateAvgChunkSeconds(avg, 3, 30)
	assert.InDelta(t, 20.0, avg, 0.0001)
}

func TestCalculateETASecondsScalesWithRemaining(t *testing.T) {
	assert.Equal(t, 0.0, CalculateETASeconds(0, 0, 10), "no average yet")
	assert.Equal(t, 0.0, CalculateETASeconds(5, 10, 10), "nothing remaining")
	assert.Equal(t, 50.0, CalculateETASeconds(10, 5, 10))
}

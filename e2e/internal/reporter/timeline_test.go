package reporter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

func TestGenerateTimeline(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	result := &scenario.TestResult{
		Scenario:    "arrive-leave",
		StartTime:   start,
		EndTime:     start.Add(75 * time.Second),
		PassedCount: 1,
		FailedCount: 1,
		Expectations: []scenario.ExpectationResult{
			{Kind: "feed", Description: "leave record", Passed: true},
			{Kind: "api", Description: "zone free", Reason: "key \"occupied\": expected 0, got 1"},
		},
	}
	events := []TimelineEvent{
		{Elapsed: 0, Layer: "reading", Description: "dev-1 occupied"},
		{Elapsed: 60, Layer: "feed", Description: "leave record", IsCheck: true, Success: true},
		{Elapsed: 61, Layer: "api", Description: "zone free", IsCheck: true},
	}

	out := GenerateTimeline(result, events)

	assert.Contains(t, out, "Scenario: arrive-leave")
	assert.Contains(t, out, "Duration: 1m 15.0s")
	assert.Contains(t, out, "ok   feed")
	assert.Contains(t, out, "FAIL api")
	assert.Contains(t, out, "zone free (api): key \"occupied\"")
	assert.Contains(t, out, "FAILED: 1 passed, 1 failed")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2.5s", formatDuration(2500*time.Millisecond))
	assert.Equal(t, "3m 0.0s", formatDuration(3*time.Minute))
}

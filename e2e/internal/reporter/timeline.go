package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

// TimelineEvent is one line of the run timeline
type TimelineEvent struct {
	Elapsed     float64
	Layer       string
	Description string
	Success     bool
	IsCheck     bool
}

// GenerateTimeline renders a plain-text report of a run
func GenerateTimeline(result *scenario.TestResult, events []TimelineEvent) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Scenario: %s\n", result.Scenario)
	fmt.Fprintf(&sb, "Duration: %s\n\n", formatDuration(result.EndTime.Sub(result.StartTime)))

	for _, e := range events {
		icon := "->"
		if e.IsCheck {
			icon = "ok"
			if !e.Success {
				icon = "FAIL"
			}
		}
		fmt.Fprintf(&sb, "[%8.2fs] %-4s %-8s %s\n", e.Elapsed, icon, e.Layer, e.Description)
	}

	failed := 0
	for _, er := range result.Expectations {
		if !er.Passed {
			if failed == 0 {
				sb.WriteString("\nFailures:\n")
			}
			failed++
			fmt.Fprintf(&sb, "  %s (%s): %s\n", er.Description, er.Kind, er.Reason)
		}
	}

	status := "PASSED"
	if !result.Passed {
		status = "FAILED"
	}
	fmt.Fprintf(&sb, "\n%s: %d passed, %d failed\n", status, result.PassedCount, result.FailedCount)

	return sb.String()
}

// SaveTimeline writes the rendered timeline to path
func SaveTimeline(timeline, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(timeline), 0o644); err != nil {
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d / time.Minute)
	return fmt.Sprintf("%dm %.1fs", minutes, (d - time.Duration(minutes)*time.Minute).Seconds())
}

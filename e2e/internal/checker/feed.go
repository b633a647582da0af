package checker

import (
	"fmt"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

// CapturedMessage is one message seen on an outbound topic
type CapturedMessage struct {
	Timestamp time.Time   `json:"timestamp"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
}

// CheckFeed matches captured messages on the check's topic
func CheckFeed(check *scenario.FeedCheck, messages []CapturedMessage) (bool, string, interface{}) {
	var matching []CapturedMessage
	for _, msg := range messages {
		if msg.Topic == check.Topic {
			matching = append(matching, msg)
		}
	}

	if check.Count != nil && len(matching) != *check.Count {
		return false, fmt.Sprintf("expected %d messages on %q, got %d", *check.Count, check.Topic, len(matching)), len(matching)
	}
	if len(check.Payload) == 0 {
		return true, "", len(matching)
	}
	if len(matching) == 0 {
		return false, fmt.Sprintf("no messages found for topic %q", check.Topic), nil
	}

	if check.Any {
		for _, msg := range matching {
			if ok, _ := MatchesExpectation(msg.Payload, check.Payload); ok {
				return true, "", msg.Payload
			}
		}
		return false, fmt.Sprintf("none of %d messages on %q matched", len(matching), check.Topic), nil
	}

	latest := matching[len(matching)-1]
	if ok, reason := MatchesExpectation(latest.Payload, check.Payload); !ok {
		return false, reason, latest.Payload
	}
	return true, "", latest.Payload
}

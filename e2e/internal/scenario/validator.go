package scenario

import (
	"fmt"
	"strings"
	"time"
)

// ValidateScenario checks a loaded scenario for structural mistakes
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if s.VirtualStart != "" {
		if _, err := time.Parse(time.RFC3339, s.VirtualStart); err != nil {
			return fmt.Errorf("virtual_start must be RFC3339: %w", err)
		}
	}

	if err := validateReadings(s.Readings); err != nil {
		return fmt.Errorf("readings validation failed: %w", err)
	}
	if err := validateExpectations(s.Expectations); err != nil {
		return fmt.Errorf("expectations validation failed: %w", err)
	}
	return nil
}

func validateReadings(readings []Reading) error {
	if len(readings) == 0 {
		return fmt.Errorf("at least one reading is required")
	}

	last := 0
	for i, r := range readings {
		if r.At < 0 {
			return fmt.Errorf("reading %d: at cannot be negative", i)
		}
		if r.At < last {
			return fmt.Errorf("reading %d: readings must be in time order (%d < %d)", i, r.At, last)
		}
		last = r.At

		if r.Device == "" || strings.Contains(r.Device, "/") {
			return fmt.Errorf("reading %d: device must be a single topic segment", i)
		}
		if r.Redeliver < 0 {
			return fmt.Errorf("reading %d: redeliver cannot be negative", i)
		}
	}
	return nil
}

func validateExpectations(exps []Expectation) error {
	if len(exps) == 0 {
		return fmt.Errorf("at least one expectation is required")
	}

	for i, e := range exps {
		if e.At < 0 {
			return fmt.Errorf("expectation %d: at cannot be negative", i)
		}

		set := 0
		if e.Feed != nil {
			set++
			if e.Feed.Topic == "" {
				return fmt.Errorf("expectation %d: feed.topic is required", i)
			}
			if len(e.Feed.Payload) == 0 && e.Feed.Count == nil {
				return fmt.Errorf("expectation %d: feed needs a payload or a count", i)
			}
		}
		if e.API != nil {
			set++
			if !strings.HasPrefix(e.API.Path, "/") {
				return fmt.Errorf("expectation %d: api.path must start with /", i)
			}
		}
		if e.Postgres != nil {
			set++
			if e.Postgres.Query == "" {
				return fmt.Errorf("expectation %d: postgres.query is required", i)
			}
		}

		if set != 1 {
			return fmt.Errorf("expectation %d: exactly one of feed, api or postgres must be set", i)
		}
	}
	return nil
}

package scenario

import "time"

// Scenario is a scripted sequence of device readings published over MQTT
// and the outcomes expected from a running parkwatch agent
type Scenario struct {
	Name         string        `yaml:"name"`
	Description  string        `yaml:"description"`
	Tenant       string        `yaml:"tenant"`
	VirtualStart string        `yaml:"virtual_start,omitempty"` // RFC3339; defaults to one hour ago
	Readings     []Reading     `yaml:"readings"`
	Expectations []Expectation `yaml:"expectations"`
}

// Reading is one device uplink. At is seconds from the scenario start and
// doubles as the reading timestamp offset from VirtualStart.
type Reading struct {
	At          int                    `yaml:"at"`
	Device      string                 `yaml:"device"`
	Payload     map[string]interface{} `yaml:"payload"`
	Redeliver   int                    `yaml:"redeliver,omitempty"` // extra identical publishes
	Description string                 `yaml:"description"`
}

// Expectation is checked once the scenario clock reaches At. Exactly one of
// Feed, API or Postgres is set.
type Expectation struct {
	At          int            `yaml:"at"`
	Description string         `yaml:"description"`
	Feed        *FeedCheck     `yaml:"feed,omitempty"`
	API         *APICheck      `yaml:"api,omitempty"`
	Postgres    *PostgresCheck `yaml:"postgres,omitempty"`
}

// FeedCheck matches the latest message captured on an outbound topic, or
// any of them when Any is set. Count, when set, is the exact number of
// messages expected on the topic.
type FeedCheck struct {
	Topic   string                 `yaml:"topic"`
	Payload map[string]interface{} `yaml:"payload"`
	Any     bool                   `yaml:"any,omitempty"`
	Count   *int                   `yaml:"count,omitempty"`
}

// APICheck issues a GET against the read API. "{tenant}" in Path is
// replaced with the scenario tenant.
type APICheck struct {
	Path   string                 `yaml:"path"`
	Status int                    `yaml:"status,omitempty"`
	Body   map[string]interface{} `yaml:"body,omitempty"`
}

// PostgresCheck runs a single-value query
type PostgresCheck struct {
	Query    string      `yaml:"query"`
	Expected interface{} `yaml:"expected"`
}

// Kind names the layer an expectation checks
func (e *Expectation) Kind() string {
	switch {
	case e.Feed != nil:
		return "feed"
	case e.API != nil:
		return "api"
	case e.Postgres != nil:
		return "postgres"
	default:
		return "none"
	}
}

// Start resolves the virtual start time
func (s *Scenario) Start(now time.Time) (time.Time, error) {
	if s.VirtualStart == "" {
		return now.Add(-time.Hour).Truncate(time.Minute), nil
	}
	return time.Parse(time.RFC3339, s.VirtualStart)
}

// TestResult is the outcome of one scenario run
type TestResult struct {
	Scenario     string              `json:"scenario"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	Passed       bool                `json:"passed"`
	PassedCount  int                 `json:"passed_count"`
	FailedCount  int                 `json:"failed_count"`
	Expectations []ExpectationResult `json:"expectations"`
}

// ExpectationResult is the outcome of a single check
type ExpectationResult struct {
	Kind        string      `json:"kind"`
	Description string      `json:"description"`
	Passed      bool        `json:"passed"`
	Reason      string      `json:"reason,omitempty"`
	Actual      interface{} `json:"actual,omitempty"`
}

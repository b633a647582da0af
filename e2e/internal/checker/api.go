package checker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

// APIChecker queries the agent's read API
type APIChecker struct {
	baseURL string
	client  *http.Client
}

// NewAPIChecker creates a checker against baseURL (e.g. http://localhost:3002)
func NewAPIChecker(baseURL string) *APIChecker {
	return &APIChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Check issues the GET and matches status and body
func (a *APIChecker) Check(ctx context.Context, tenantID string, check *scenario.APICheck) (bool, string, interface{}) {
	url := a.baseURL + strings.ReplaceAll(check.Path, "{tenant}", tenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("bad request: %v", err), nil
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	want := check.Status
	if want == 0 {
		want = http.StatusOK
	}

	var body interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Sprintf("response is not JSON: %v", err), resp.StatusCode
	}

	if resp.StatusCode != want {
		return false, fmt.Sprintf("expected status %d, got %d", want, resp.StatusCode), body
	}
	if len(check.Body) > 0 {
		if ok, reason := MatchesExpectation(body, check.Body); !ok {
			return false, reason, body
		}
	}
	return true, "", body
}

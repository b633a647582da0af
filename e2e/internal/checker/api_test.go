package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/parkwatch/e2e/internal/scenario"
)

func TestAPICheckerCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/tenants/acme/zones/z1/occupancy":
			_, _ = w.Write([]byte(`{"tenantId":"acme","occupied":0,"free":2}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	checker := NewAPIChecker(srv.URL + "/")
	ctx := context.Background()

	ok, reason, _ := checker.Check(ctx, "acme", &scenario.APICheck{
		Path: "/api/v1/tenants/{tenant}/zones/z1/occupancy",
		Body: map[string]interface{}{"occupied": 0, "free": ">1"},
	})
	assert.True(t, ok, reason)

	ok, _, _ = checker.Check(ctx, "acme", &scenario.APICheck{
		Path: "/api/v1/tenants/{tenant}/zones/z1/occupancy",
		Body: map[string]interface{}{"occupied": 1},
	})
	assert.False(t, ok)

	ok, reason, actual := checker.Check(ctx, "acme", &scenario.APICheck{
		Path:   "/api/v1/tenants/{tenant}/zones/z9/occupancy",
		Status: http.StatusNotFound,
	})
	require.True(t, ok, reason)
	assert.Equal(t, map[string]interface{}{"error": "not found"}, actual)

	ok, _, _ = checker.Check(ctx, "acme", &scenario.APICheck{Path: "/missing"})
	assert.False(t, ok, "404 when 200 is expected")
}

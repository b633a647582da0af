package redis

import "testing"

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"replay cursor", ReplayCursorKey("acme", "2026-03-export"), "cursor:acme:2026-03-export"},
		{"delivery marker", DeliveryMarkerKey("acme", "dev-1", 1772445600000), "delivered:acme:dev-1:1772445600000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

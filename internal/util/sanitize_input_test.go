package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "user_1", SanitizeInput("  user_1 \n"))
	assert.Equal(t, "10.0.0.1", SanitizeInput("10.0\x00.0.1\t"))
	assert.Equal(t, "/api/v1/orders?a=1&b=2", SanitizeInput("/api/v1/orders?a=1&b=2"))
}

func TestContainsSuspicious(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"login", false},
		{"/api/v1/orders", false},
		{"Mozilla/5.0 (X11; Linux x86_64)", false},
		{"192.168.1.10", false},
		{"<script>alert(1)</script>", true},
		{"${jndi:ldap://x}", true},
		{"{{7*7}}", true},
		{"JavaScript:void(0)", true},
		{"x onerror=alert(1)", true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, ContainsSuspicious(tc.input))
		})
	}
}

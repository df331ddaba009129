package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"9876543210", "+919876543210", true},
		{"98765 43210", "+919876543210", true},
		{"(987) 654-3210", "+919876543210", true},
		{"09876543210", "+919876543210", true},
		{"+91 98765-43210", "+919876543210", true},
		{"919876543210", "+919876543210", true},
		{"0044 20 7946 0958", "+442079460958", true},
		{"my number is 98765 43210", "+919876543210", true},
		{"abc", "", false},
		{"", "", false},
		{"12345", "", false},
		{"+0123456789012", "", false},
		{"1234567890123456", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizePhone(tt.raw, "91")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*********3210", maskPhone("+919876543210"))
	assert.Equal(t, "123", maskPhone("123"))
}

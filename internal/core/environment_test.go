package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvironment(t *testing.T) {
	tests := []struct {
		in   string
		want Environment
	}{
		{"production", Production},
		{"staging", Staging},
		{"testing", Testing},
		{"development", Development},
		{"", Development},
		{"PRODUCTION", Development},
		{"garbage", Development},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEnvironment(tt.in), "input %q", tt.in)
	}
}

func TestEnvironment_IsProduction(t *testing.T) {
	assert.True(t, Production.IsProduction())
	assert.False(t, Development.IsProduction())
	assert.False(t, Staging.IsProduction())
}

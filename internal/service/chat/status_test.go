package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusDisconnected, StatusConnecting, true},
		{StatusConnecting, StatusConnected, true},
		{StatusConnected, StatusConnected, true},
		{StatusConnected, StatusRestarting, true},
		{StatusRestarting, StatusConnecting, true},
		{StatusConnected, StatusError, true},
		{StatusError, StatusRestarting, true},
		{StatusError, StatusEnded, true},
		{StatusEnded, StatusConnecting, true},
		{StatusError, StatusConnected, false},
		{StatusEnded, StatusConnected, false},
		{StatusConnected, StatusConnecting, false},
		{StatusRestarting, StatusConnected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusDisconnected.Startable())
	assert.True(t, StatusEnded.Startable())
	assert.False(t, StatusError.Startable())

	assert.True(t, StatusConnected.Polling())
	assert.False(t, StatusRestarting.Polling())
	assert.False(t, StatusError.Polling())
}

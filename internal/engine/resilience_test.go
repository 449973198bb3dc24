package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSignal(t *testing.T) {
	tests := []struct {
		payload string
		id      string
		flag    bool
		ok      bool
	}{
		{"tenant-1:on", "tenant-1", true, true},
		{"tenant-1:off", "tenant-1", false, true},
		{"rem-42:true", "rem-42", true, true},
		{"rem-42:FALSE", "rem-42", false, true},
		{"urn:rem:42:approved", "urn:rem:42", true, true},
		{"no-separator", "", false, false},
		{":on", "", false, false},
		{"tenant:", "", false, false},
		{"tenant:maybe", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			id, flag, ok := ParseSignal(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.flag, flag)
		})
	}
}

func TestSleepContext(t *testing.T) {
	assert.True(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, SleepContext(ctx, time.Hour))
}

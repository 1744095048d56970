package csg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionDumpLoadRoundTrip(t *testing.T) {
	s := Session{
		Token:      "tok-abc123",
		Channel:    ChannelApp,
		AcquiredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := s.Dump()
	require.NoError(t, err)

	loaded, err := LoadSession(data)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestLoadSessionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"missing token", `{"channel":"web","acquired_at":"2024-03-01T12:00:00Z"}`},
		{"unknown channel", `{"token":"tok","channel":"wechat"}`},
		{"empty channel", `{"token":"tok"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSession([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestSessionIsLikelyValid(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	valid := Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: now.Add(-time.Hour)}
	assert.True(t, valid.IsLikelyValid(now))

	// no age cutoff: an old session is still a candidate for reuse
	old := Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: now.Add(-90 * 24 * time.Hour)}
	assert.True(t, old.IsLikelyValid(now))

	assert.False(t, Session{}.IsLikelyValid(now))
	assert.False(t, Session{Token: "tok", Channel: ChannelWeb}.IsLikelyValid(now))
	future := Session{Token: "tok", Channel: ChannelWeb, AcquiredAt: now.Add(time.Hour)}
	assert.False(t, future.IsLikelyValid(now))
}

func TestChannelLogonCodes(t *testing.T) {
	assert.Equal(t, "3", ChannelWeb.LogonCode())
	assert.Equal(t, "4", ChannelApp.LogonCode())
	assert.Equal(t, "wt", ChannelWeb.pathSegment())
	assert.Equal(t, "zt", ChannelApp.pathSegment())
}

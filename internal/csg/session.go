package csg

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel is one of the two parallel API surfaces the vendor runs. A
// client is bound to exactly one channel for its lifetime; a session
// created on one channel is not valid on the other.
type Channel string

const (
	// ChannelWeb is the browser portal ("online hall").
	ChannelWeb Channel = "web"
	// ChannelApp is the mobile app backend ("handheld hall").
	ChannelApp Channel = "app"
)

// LogonCode returns the vendor's numeric channel identifier used in
// login payloads.
func (ch Channel) LogonCode() string {
	if ch == ChannelApp {
		return logonChannelHandheldHall
	}
	return logonChannelOnlineHall
}

// pathSegment returns the URL path component that selects the channel.
func (ch Channel) pathSegment() string {
	if ch == ChannelApp {
		return "zt"
	}
	return "wt"
}

func (ch Channel) valid() bool {
	return ch == ChannelWeb || ch == ChannelApp
}

// Session is the authenticated state issued by a successful login. It
// is the only state the host is asked to persist. The channel never
// changes after creation; switching channel means a new Session.
type Session struct {
	Token      string    `json:"token"`
	Channel    Channel   `json:"channel"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Dump serializes the session for persistence. load(dump(s)) == s.
func (s Session) Dump() ([]byte, error) {
	return json.Marshal(s)
}

// LoadSession restores a session previously produced by Dump. The
// session's validity against the server is not checked here; use
// Client.VerifyLogin for that.
func LoadSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("session: failed to decode: %w", err)
	}
	if s.Token == "" {
		return Session{}, fmt.Errorf("session: missing token")
	}
	if !s.Channel.valid() {
		return Session{}, fmt.Errorf("session: unknown channel %q", s.Channel)
	}
	return s, nil
}

// IsLikelyValid is a cheap local heuristic. Token lifetimes differ
// between channels and are not contractual, so no age cutoff is
// applied; true validity is whatever the server says.
func (s Session) IsLikelyValid(now time.Time) bool {
	return s.Token != "" && s.Channel.valid() && !s.AcquiredAt.IsZero() && !s.AcquiredAt.After(now)
}

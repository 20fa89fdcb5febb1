package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// UniqueKey
// ---------------------------------------------------------------------------

func TestUniqueKey_PrefersExifID(t *testing.T) {
	p := &Photo{Title: "a.jpg", UniqueID: "f00dcafe", Timestamp: time.UnixMilli(1000)}
	if got := UniqueKey(p); got != "f00dcafe" {
		t.Errorf("UniqueKey = %q, want %q", got, "f00dcafe")
	}
}

func TestUniqueKey_FallsBackToFilenameAndTimestamp(t *testing.T) {
	p := &Photo{Title: "a.jpg", Timestamp: time.UnixMilli(1700000000123)}
	if got := UniqueKey(p); got != "a.jpg_1700000000123" {
		t.Errorf("UniqueKey = %q, want %q", got, "a.jpg_1700000000123")
	}
}

// ---------------------------------------------------------------------------
// Media selection
// ---------------------------------------------------------------------------

func TestPhoto_DownloadURL(t *testing.T) {
	media := func(n int) []MediaContent {
		out := make([]MediaContent, n)
		for i := range out {
			out[i].URL = fmt.Sprintf("u%d", i)
		}
		return out
	}
	tests := []struct {
		streams int
		want    string
	}{
		{0, ""},
		{1, "u0"},
		{2, "u1"},
		{3, "u2"},
		{4, "u2"},
	}
	for _, tt := range tests {
		p := &Photo{Media: media(tt.streams)}
		if got := p.DownloadURL(); got != tt.want {
			t.Errorf("DownloadURL with %d streams = %q, want %q", tt.streams, got, tt.want)
		}
	}
}

func TestPhoto_IsVideo(t *testing.T) {
	if (&Photo{Media: make([]MediaContent, 1)}).IsVideo() {
		t.Error("single stream reported as video")
	}
	if !(&Photo{Media: make([]MediaContent, 3)}).IsVideo() {
		t.Error("three streams not reported as video")
	}
}

// ---------------------------------------------------------------------------
// IsNetworkError
// ---------------------------------------------------------------------------

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("listing: %w", ErrNetworkUnavailable), true},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, true},
		{"op", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"auth", ErrAuthExpired, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsNetworkError(tt.err); got != tt.want {
			t.Errorf("IsNetworkError(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

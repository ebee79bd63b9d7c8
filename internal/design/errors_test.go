package design

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "2", 2 * time.Second},
		{"zero seconds", "0", 0},
		{"negative clamped", "-5", 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.in); got != tt.want {
				t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	at := time.Now().Add(90 * time.Second).UTC()
	got := parseRetryAfter(at.Format(http.TimeFormat))
	if got < 80*time.Second || got > 91*time.Second {
		t.Errorf("parseRetryAfter(http date) = %v, want ~90s", got)
	}

	past := time.Now().Add(-time.Minute).UTC()
	if got := parseRetryAfter(past.Format(http.TimeFormat)); got != 0 {
		t.Errorf("parseRetryAfter(past date) = %v, want 0", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		rateLimit bool
	}{
		{"too many requests", http.StatusTooManyRequests, false, true},
		{"internal error", http.StatusInternalServerError, true, false},
		{"bad gateway", http.StatusBadGateway, true, false},
		{"request timeout", http.StatusRequestTimeout, true, false},
		{"forbidden", http.StatusForbidden, false, false},
		{"not found", http.StatusNotFound, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			err := classifyStatus("op", resp, nil)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
			if got := IsRateLimit(err); got != tt.rateLimit {
				t.Errorf("IsRateLimit = %v, want %v", got, tt.rateLimit)
			}
			if !tt.transient && !tt.rateLimit && !IsFatal(err) {
				t.Error("expected a fatal classification")
			}
		})
	}
}

func TestNodeIsVisible(t *testing.T) {
	hidden := false
	shown := true

	if !(&Node{}).IsVisible() {
		t.Error("nil visible field should mean visible")
	}
	if (&Node{Visible: &hidden}).IsVisible() {
		t.Error("explicit false should mean hidden")
	}
	if !(&Node{Visible: &shown}).IsVisible() {
		t.Error("explicit true should mean visible")
	}
}

package api

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Bearer ", ""},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(r); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestIssueToken(t *testing.T) {
	if _, err := IssueToken("", "x", time.Hour, time.Now()); err == nil {
		t.Error("IssueToken with empty secret succeeded")
	}

	s := &Server{now: time.Now}
	s.secCfg.SecretKey = testSecret

	forever, err := IssueToken(testSecret, "cli", 0, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !s.authenticate(forever) {
		t.Error("token without expiry rejected")
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	short, _ := IssueToken(testSecret, "cli", time.Hour, time.Now())
	if s.authenticate(short) {
		t.Error("token accepted after expiry")
	}
}

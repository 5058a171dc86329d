package netutil

import (
	"errors"
	"net"
	"net/url"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return false }

func TestShouldRetry(t *testing.T) {
	dial := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"timeout", timeoutErr{}, true},
		{"dial", dial, true},
		{"wrapped dial", &url.Error{Op: "Post", URL: "https://api.telegram.org", Err: dial}, true},
	}
	for _, tc := range cases {
		if got := ShouldRetry(tc.err); got != tc.want {
			t.Errorf("%s: ShouldRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestClassifyAndRedact(t *testing.T) {
	if got := Classify(errors.New("telegram: Forbidden: bot was blocked by the user (403)")); got != "http_4xx" {
		t.Fatalf("classify = %q", got)
	}
	if got := Classify(errors.New("telegram: retry after 3 (429)")); got != "flood" {
		t.Fatalf("classify = %q", got)
	}
	err := errors.New(`Post "https://api.telegram.org/bot123:ABC-def_9/sendMessage": EOF`)
	if got := Redact(err); got != `Post "https://api.telegram.org/bot<redacted>/sendMessage": EOF` {
		t.Fatalf("redact = %q", got)
	}
}

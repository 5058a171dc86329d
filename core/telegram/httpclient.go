package telegram

import (
	"net/http"

	"github.com/m3rciful/meetupbot/core/telegram/netutil"
)

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
// The response header timeout leaves room for the long-poll wait.
func BuildHTTPClient(longPoll int) *http.Client {
	opts := netutil.ClientOptions{Retries: 3}
	if longPoll > 0 {
		opts.ResponseTimeout = longPollTimeout(longPoll) + netutil.DefaultResponseTimeout
		opts.Timeout = opts.ResponseTimeout + netutil.DefaultResponseTimeout
	}
	return netutil.NewClient(opts)
}

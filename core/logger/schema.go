package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

// status values are open-ended; outcome values are a closed set and unknown ones are dropped.
var knownOutcomes = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"cancelled":    {},
	"rate_limited": {},
	"stale":        {},
	"duplicate":    {},
	"denied":       {},
	"invalid":      {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		return "", false
	}
	_, ok := knownOutcomes[outcome]
	return outcome, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"kind",
	"flow",
	"step",
	"next_step",
	"trigger",
	"action",
	"outcome",
	"duration_ms",
	"messages",
	"payload",
	"username",
	"event_id",
	"speaker",
	"question_id",
	"donation_id",
	"payment_id",
	"amount",
	"recipients",
	"delivered",
	"failed",
	"mode",
	"listen",
	"addr",
	"public_url",
	"http_code",
	"backend",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
}

package logger

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
	redacted         = "[redacted]"
)

// secretKeys are never written in clear, whatever component logs them.
var secretKeys = map[string]struct{}{
	"token":         {},
	"secret":        {},
	"secret_key":    {},
	"password":      {},
	"authorization": {},
}

type handlerConfig struct {
	level    slog.Leveler
	writer   *batchWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as one JSON object or key=value line with
// a stable key order.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

// Enabled implements slog.Handler.
func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

// Handle implements slog.Handler.
func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	jsonOut := h.cfg.format == formatJSON

	e := make(entry, 16)
	ts := r.Time.UTC()
	e["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	e["level"] = normalizeLevel(r.Level.String())
	if jsonOut {
		e["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		e.add(h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(h.prefix, a)
		return true
	})
	e.fromContext(ctx)
	e.compactRID(jsonOut)
	if e.str("event") == "" {
		e["event"] = cmp.Or(r.Message, "unknown")
	}
	if e.str("component") == "" {
		e["component"] = "app"
	}
	e.normalize()

	var line []byte
	if jsonOut {
		var err error
		if line, err = e.encodeJSON(h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = e.encodeKV(h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

// WithAttrs implements slog.Handler.
func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

// WithGroup implements slog.Handler. Groups become dotted key prefixes.
func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// entry holds the flattened fields of one record.
type entry map[string]any

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func (e entry) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			e.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if _, secret := secretKeys[key[strings.LastIndexByte(key, '.')+1:]]; secret {
		e[key] = redacted
		return
	}
	if k, v, ok := convert(key, a.Value.Resolve()); ok {
		e[k] = v
	}
}

// convert maps a slog value to a JSON friendly one. Durations become whole
// milliseconds under a _ms key.
func convert(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u > math.MaxInt64 {
			return key, u, true
		}
		return key, int64(v.Uint64()), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so the unit is part of the key.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	default:
		return key + "_ms"
	}
}

func (e entry) str(key string) string {
	switch v := e[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func (e entry) setDefault(key string, val any, present bool) {
	if !present {
		return
	}
	if _, ok := e[key]; !ok {
		e[key] = val
	}
}

// fromContext fills update and conversation metadata not set explicitly.
func (e entry) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	rid := RIDFrom(ctx)
	e.setDefault("rid", rid, rid != "")
	uid := UserIDFrom(ctx)
	e.setDefault("user_id", uid, uid != 0)
	upd := UpdateIDFrom(ctx)
	e.setDefault("update_id", upd, upd != 0)
	cid := ChatIDFrom(ctx)
	e.setDefault("chat_id", cid, cid != 0)
	hid := HandlerFrom(ctx)
	e.setDefault("handler", hid, hid != "")
	flow := FlowFrom(ctx)
	e.setDefault("flow", flow, flow != "")
	step := StepFrom(ctx)
	e.setDefault("step", step, step != "")
}

// compactRID shortens the request id; JSON output keeps the original as rid_full.
func (e entry) compactRID(keepFull bool) {
	rid := e.str("rid")
	if rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if keepFull {
		e.setDefault("rid_full", rid, true)
	}
	e["rid"] = compact
}

// normalize lowercases status, drops unknown outcomes and empty values.
func (e entry) normalize() {
	e["level"] = normalizeLevel(e.str("level"))
	if st := e.str("status"); st != "" {
		e["status"] = strings.ToLower(strings.TrimSpace(st))
	}
	if o := e.str("outcome"); o != "" {
		if norm, ok := normalizeOutcome(o); ok {
			e["outcome"] = norm
		} else {
			delete(e, "outcome")
		}
	}
	for k, v := range e {
		if v == nil || v == "" {
			delete(e, k)
		}
	}
}

// keys lists order entries present in e, then the rest alphabetically.
func (e entry) keys(order []string) []string {
	out := make([]string, 0, len(e))
	seen := make(map[string]struct{}, len(order))
	for _, k := range order {
		if _, ok := e[k]; ok {
			if _, dup := seen[k]; !dup {
				out = append(out, k)
				seen[k] = struct{}{}
			}
		}
	}
	rest := make([]string, 0, len(e)-len(out))
	for k := range e {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

func (e entry) encodeJSON(order []string) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range e.keys(order) {
		data, err := json.Marshal(e[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (e entry) encodeKV(order []string) []byte {
	var b bytes.Buffer
	for i, k := range e.keys(order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(e[k]))
	}
	return b.Bytes()
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		s = strconv.FormatBool(x)
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsFunc(s, needsQuote) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}

package middleware

import (
	"log/slog"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/meetupbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// seenUpdates suppresses duplicate receipt lines when the middleware wraps several branches.
var seenUpdates = gocache.New(10*time.Second, time.Minute)

func alreadyLogged(updateID int) bool {
	return seenUpdates.Add(strconv.Itoa(updateID), struct{}{}, gocache.DefaultExpiration) != nil
}

// LoggerMiddleware stores the per-update context and logs one sampled receipt line.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set("update_start", time.Now())
		ctx := tghelpers.BuildContext(c)

		upd := c.Update()
		if logger.ShouldSampleDebug() && !alreadyLogged(upd.ID) {
			attrs := []slog.Attr{slog.String("status", "ok")}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
			}
			if user := c.Sender(); user != nil {
				if user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if user.LanguageCode != "" {
					attrs = append(attrs, slog.String("lang", user.LanguageCode))
				}
			}
			switch {
			case upd.Callback != nil:
				if data := callbacks.Data(upd.Callback); data != "" {
					attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(data, 128)))
				}
			case upd.Message != nil:
				if t := c.Text(); t != "" {
					attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
				}
			}
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", attrs...)
		}

		return next(c)
	}
}

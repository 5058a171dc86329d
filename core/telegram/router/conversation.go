package router

import (
	"log/slog"
	"time"

	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"
	tg "github.com/m3rciful/meetupbot/core/telegram"
	tghelpers "github.com/m3rciful/meetupbot/core/telegram/helpers"
	"github.com/m3rciful/meetupbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// mediaEndpoints reach the dispatcher as empty text so a text step can ask again.
var mediaEndpoints = []string{tele.OnPhoto, tele.OnDocument, tele.OnSticker, tele.OnVoice, tele.OnVideo}

// ConversationRoutes sends every message and button press through d and
// queues its replies in order.
func ConversationRoutes(d *conversation.Dispatcher) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		ev, ok := EventFrom(c)
		if !ok {
			logHandlerSummary(c, "conversation.skip", start, "skip", nil)
			return nil
		}
		if c.Callback() != nil {
			// stop the client spinner; replies arrive as separate messages
			_ = c.Respond()
		}

		name := "conversation." + string(ev.Kind)
		return handleWithSummary(c, name, start, func() error {
			replies := d.Handle(tghelpers.BuildContext(c), ev)
			middleware.AddMessages(c, len(replies), tghelpers.HasKeyboard(replies))
			return tghelpers.SendReplies(c, replies)
		}, slog.String("kind", string(ev.Kind)))
	}

	h := middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler))
	routes := []tg.Route{
		{Endpoint: tele.OnText, Handler: h},
		{Endpoint: tele.OnCallback, Handler: h},
	}
	for _, ep := range mediaEndpoints {
		routes = append(routes, tg.Route{Endpoint: ep, Handler: h})
	}

	logger.LogEvent(logger.Background(), logger.TWire, slog.LevelInfo, "tg.wire",
		slog.String("outcome", "ok"),
		slog.Int("routes", len(routes)),
		slog.Int("flows", len(d.Registry().FlowNames())),
	)
	return routes
}

package bot

import (
	"context"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Bot context keeps references to common (Telegram Bot API, logger) parameters
// of a bot and carries the process lifetime: when it's done the bot must stop.
type Context struct {
	context.Context
	Bot    *tg.BotAPI
	Logger *zap.SugaredLogger
}

// NewContext creates new context. Make sure pointers are not nil.
func NewContext(parent context.Context, bot *tg.BotAPI, logger *zap.SugaredLogger) *Context {
	return &Context{
		Context: parent,
		Bot:     bot,
		Logger:  logger,
	}
}

// WithUser returns a copy of the context whose logger is tagged with the user
// ID.
func (ctx *Context) WithUser(usr int64) *Context {
	return &Context{
		Context: ctx.Context,
		Bot:     ctx.Bot,
		Logger:  ctx.Logger.With("usr", usr),
	}
}

package tgbot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studybuddy/bot"
	"studybuddy/bots/StudyBuddy/command"
)

const fmtMention = `<a href="tg://user?id=%d">%s</a>`

// TBot adapts the Telegram Bot API to the interfaces of the dispatcher, the
// quiz and the reminder job.
type TBot struct {
	Bot           *tg.BotAPI
	Logger        *zap.SugaredLogger
	RetryDelay    time.Duration
	RetryAttempts int
}

func NewTBot(b *tg.BotAPI, attempts int, delay time.Duration, l *zap.SugaredLogger) *TBot {
	return &TBot{
		Bot:           b,
		Logger:        l,
		RetryAttempts: attempts,
		RetryDelay:    delay,
	}
}

// SendMessage sends HTML text to the chat
func (b *TBot) SendMessage(ctx context.Context, chatID int64, txt string) error {
	return b.send(ctx, chatID, txt, -1)
}

// Reply sends HTML text to the chat of msg as a reply to it
func (b *TBot) Reply(ctx context.Context, msg command.Message, txt string) error {
	return b.send(ctx, msg.ChatID, txt, msg.MessageID)
}

// Notify sends HTML text to the user in private
func (b *TBot) Notify(ctx context.Context, usr int64, txt string) error {
	return b.send(ctx, usr, txt, -1)
}

func (b *TBot) send(ctx context.Context, chatID int64, txt string, replyTo int) error {
	m := tg.NewMessage(chatID, txt)
	if replyTo > 0 {
		m.ReplyToMessageID = replyTo
		m.AllowSendingWithoutReply = true
	}
	m.ParseMode = tg.ModeHTML
	m.DisableWebPagePreview = true

	var err error
	bot.RobustExecute(ctx, b.RetryAttempts, b.RetryDelay, func() bool {
		_, err = b.Bot.Request(m)
		return err == nil
	})
	if err != nil {
		b.Logger.Errorw("failed sending message", "chat", chatID, "err", err)
		return errors.Wrap(err, "failed sending message")
	}
	return nil
}

func (b *TBot) member(chatID, usr int64) (tg.ChatMember, error) {
	return b.Bot.GetChatMember(tg.GetChatMemberConfig{
		ChatConfigWithUser: tg.ChatConfigWithUser{ChatID: chatID, UserID: usr},
	})
}

// IsAdmin reports whether the user is an administrator or the creator of the
// chat. Nobody administers a private chat with the bot.
func (b *TBot) IsAdmin(_ context.Context, chatID, usr int64) (bool, error) {
	if chatID == usr {
		return false, nil
	}

	m, err := b.member(chatID, usr)
	if err != nil {
		return false, errors.Wrap(err, "failed getting chat member")
	}
	return m.IsAdministrator() || m.IsCreator(), nil
}

// MemberCount returns the number of members of the chat
func (b *TBot) MemberCount(_ context.Context, chatID int64) (int, error) {
	n, err := b.Bot.GetChatMembersCount(tg.ChatMemberCountConfig{
		ChatConfig: tg.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed getting chat member count")
	}
	return n, nil
}

// ChatExists reports whether the bot can still see the chat
func (b *TBot) ChatExists(_ context.Context, chatID int64) bool {
	_, err := b.Bot.GetChat(tg.ChatInfoConfig{ChatConfig: tg.ChatConfig{ChatID: chatID}})
	if err != nil {
		b.Logger.Warnw("chat is unreachable", "chat", chatID, "err", err)
		return false
	}
	return true
}

// Mention returns an HTML link to the user named as the chat sees them. It
// falls back to the user ID when the member can't be resolved.
func (b *TBot) Mention(_ context.Context, chatID, usr int64) string {
	name := fmt.Sprintf("user %d", usr)

	m, err := b.member(chatID, usr)
	if err != nil {
		b.Logger.Warnw("failed resolving member", "chat", chatID, "usr", usr, "err", err)
	} else if m.User != nil {
		name = DisplayName(m.User)
	}

	return fmt.Sprintf(fmtMention, usr, html.EscapeString(name))
}

// DisplayName returns the user's full name or, lacking one, the username
func DisplayName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// ToMessage converts a Telegram message into a dispatcher message. It returns
// false for messages without text or author.
func ToMessage(m *tg.Message) (command.Message, bool) {
	if m == nil || m.From == nil || m.Chat == nil || m.Text == "" {
		return command.Message{}, false
	}

	return command.Message{
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		UserName:  DisplayName(m.From),
		Private:   m.Chat.IsPrivate(),
		MessageID: m.MessageID,
		Text:      m.Text,
	}, true
}

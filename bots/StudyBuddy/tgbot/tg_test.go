package tgbot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"studybuddy/bots/StudyBuddy/command"
)

// fakeAPI mimics the few Bot API methods the adapter calls
type fakeAPI struct {
	mu       sync.Mutex
	sent     []map[string]string
	failSend int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	switch {
	case method == "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":777,"is_bot":true,"first_name":"Study","username":"StudyBuddyBot"}}`)

	case method == "sendMessage":
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failSend > 0 {
			f.failSend--
			fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry later"}`)
			return
		}
		f.sent = append(f.sent, map[string]string{
			"chat_id":             r.Form.Get("chat_id"),
			"text":                r.Form.Get("text"),
			"parse_mode":          r.Form.Get("parse_mode"),
			"reply_to_message_id": r.Form.Get("reply_to_message_id"),
		})
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%s,"type":"group"}}}`, r.Form.Get("chat_id"))

	case method == "getChatMember":
		status := "member"
		switch r.Form.Get("user_id") {
		case "1":
			status = "administrator"
		case "2":
			status = "creator"
		case "404":
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: user not found"}`)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"user":{"id":%s,"is_bot":false,"first_name":"Ann","last_name":"<Lee>","username":"ann"},"status":%q}}`,
			r.Form.Get("user_id"), status)

	case strings.HasPrefix(method, "getChatMember") && strings.HasSuffix(method, "Count"):
		fmt.Fprint(w, `{"ok":true,"result":42}`)

	case method == "getChat":
		if r.Form.Get("chat_id") != "-100" {
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"id":-100,"type":"group","title":"Study group"}}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
	}
}

func (f *fakeAPI) messages() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.sent...)
}

func (f *fakeAPI) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSend = n
}

func newTestTBot(t *testing.T) (*TBot, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := tg.NewBotAPIWithAPIEndpoint("token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	require.Equal(t, "StudyBuddyBot", b.Self.UserName)

	return NewTBot(b, 3, time.Millisecond, zap.NewNop().Sugar()), api
}

func TestTBot_Send(t *testing.T) {
	b, api := newTestTBot(t)
	ctx := context.Background()

	require.NoError(t, b.SendMessage(ctx, -100, "<b>hi</b>"))
	require.NoError(t, b.Reply(ctx, command.Message{ChatID: -100, MessageID: 5}, "pong"))
	require.NoError(t, b.Notify(ctx, 99, "alert"))

	sent := api.messages()
	require.Len(t, sent, 3)
	assert.Equal(t, map[string]string{"chat_id": "-100", "text": "<b>hi</b>", "parse_mode": "HTML", "reply_to_message_id": ""}, sent[0])
	assert.Equal(t, "5", sent[1]["reply_to_message_id"])
	assert.Equal(t, "99", sent[2]["chat_id"])
}

func TestTBot_SendRetries(t *testing.T) {
	b, api := newTestTBot(t)

	api.failNext(2)
	require.NoError(t, b.SendMessage(context.Background(), -100, "eventually"))
	assert.Len(t, api.messages(), 1)

	api.failNext(3)
	assert.Error(t, b.SendMessage(context.Background(), -100, "never"))
	assert.Len(t, api.messages(), 1)
}

func TestTBot_Members(t *testing.T) {
	b, _ := newTestTBot(t)
	ctx := context.Background()

	for usr, want := range map[int64]bool{1: true, 2: true, 3: false} {
		ok, err := b.IsAdmin(ctx, -100, usr)
		require.NoError(t, err)
		assert.Equal(t, want, ok, usr)
	}

	ok, err := b.IsAdmin(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok, "private chat")

	_, err = b.IsAdmin(ctx, -100, 404)
	assert.Error(t, err)

	n, err := b.MemberCount(ctx, -100)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	assert.Equal(t, `<a href="tg://user?id=3">Ann &lt;Lee&gt;</a>`, b.Mention(ctx, -100, 3))
	assert.Equal(t, `<a href="tg://user?id=404">user 404</a>`, b.Mention(ctx, -100, 404))

	assert.True(t, b.ChatExists(ctx, -100))
	assert.False(t, b.ChatExists(ctx, -200))
}

func TestToMessage(t *testing.T) {
	m, ok := ToMessage(&tg.Message{
		MessageID: 3,
		From:      &tg.User{ID: 1, UserName: "ann"},
		Chat:      &tg.Chat{ID: 1, Type: "private"},
		Text:      "!ping",
	})
	require.True(t, ok)
	assert.Equal(t, command.Message{ChatID: 1, UserID: 1, UserName: "ann", Private: true, MessageID: 3, Text: "!ping"}, m)

	_, ok = ToMessage(&tg.Message{From: &tg.User{ID: 1}, Chat: &tg.Chat{ID: 1}})
	assert.False(t, ok, "no text")
	_, ok = ToMessage(&tg.Message{Chat: &tg.Chat{ID: 1}, Text: "hi"})
	assert.False(t, ok, "no author")
	_, ok = ToMessage(nil)
	assert.False(t, ok)
}

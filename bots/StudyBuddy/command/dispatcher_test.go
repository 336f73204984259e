package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sent struct {
	chat int64
	text string
}

type fakeTransport struct {
	mu       sync.Mutex
	replies  []sent
	notes    []sent
	admins   map[int64]bool
	adminErr error
}

func (f *fakeTransport) Reply(_ context.Context, msg Message, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sent{msg.ChatID, text})
	return nil
}

func (f *fakeTransport) Notify(_ context.Context, usr int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, sent{usr, text})
	return nil
}

func (f *fakeTransport) IsAdmin(_ context.Context, _, usr int64) (bool, error) {
	return f.admins[usr], f.adminErr
}

type fakeReporter struct {
	errs []error
}

func (f *fakeReporter) Report(err error, _ map[string]interface{}) {
	f.errs = append(f.errs, err)
}

const adminID = 42

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{admins: map[int64]bool{1: true}}
	return NewDispatcher("!", tr, adminID, zap.NewNop().Sugar()), tr
}

func msg(text string) Message {
	return Message{ChatID: -100, UserID: 1, UserName: "alice", Text: text}
}

func TestParse(t *testing.T) {
	d, _ := newTestDispatcher(t)

	for text, want := range map[string][2]string{
		"!ping":                 {"ping", ""},
		"!remind   buy milk  ":  {"remind", "buy milk"},
		"!due\tadd x 2024-01-01": {"due", "add x 2024-01-01"},
		"!ping@StudyBuddyBot":   {"ping", ""},
	} {
		name, tail, ok := d.Parse(text)
		require.True(t, ok, text)
		assert.Equal(t, want[0], name, text)
		assert.Equal(t, want[1], tail, text)
	}

	for _, text := range []string{"ping", "", "!", "! ping", "/ping"} {
		_, _, ok := d.Parse(text)
		assert.False(t, ok, text)
	}
}

func TestRegister_Duplicates(t *testing.T) {
	d, _ := newTestDispatcher(t)
	noop := func(context.Context, *Invocation) error { return nil }

	require.NoError(t, d.Register(&Command{Name: "help", Aliases: []string{"helpme"}, Run: noop}))
	assert.Error(t, d.Register(&Command{Name: "helpme", Run: noop}))
	assert.Error(t, d.Register(&Command{Name: "nohandler"}))

	c, ok := d.Lookup("helpme")
	require.True(t, ok)
	assert.Equal(t, "help", c.Name)
	assert.Len(t, d.Commands(), 1)
}

func TestDispatch_Outcomes(t *testing.T) {
	d, tr := newTestDispatcher(t)
	rep := &fakeReporter{}
	d.SetReporter(rep)

	var got *Invocation
	require.NoError(t, d.Register(
		&Command{Name: "ping", Run: func(_ context.Context, inv *Invocation) error {
			got = inv
			return nil
		}},
		&Command{Name: "remind", Shape: Tail, Param: "message", Required: true, Run: func(_ context.Context, inv *Invocation) error {
			got = inv
			return nil
		}},
		&Command{Name: "due", Shape: Subcommand, Run: func(_ context.Context, inv *Invocation) error {
			got = inv
			if inv.Sub == "delete" {
				_, err := inv.Int(inv.Args[0])
				return err
			}
			return nil
		}},
		&Command{Name: "admin", AdminOnly: true, Run: func(context.Context, *Invocation) error { return nil }},
		&Command{Name: "usercount", GroupOnly: true, Run: func(context.Context, *Invocation) error { return nil }},
		&Command{Name: "boom", Run: func(context.Context, *Invocation) error { return errors.New("db is gone") }},
		&Command{Name: "panic", Run: func(context.Context, *Invocation) error { panic("oops") }},
	))

	ctx := context.Background()

	assert.Equal(t, OutcomeIgnored, d.Dispatch(ctx, msg("hello there")))
	assert.Empty(t, tr.replies)

	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!ping extra words")))
	assert.Equal(t, "ping", got.Name)
	assert.Empty(t, tr.replies)

	assert.Equal(t, OutcomeUnknown, d.Dispatch(ctx, msg("!nope")))
	assert.Contains(t, tr.replies[len(tr.replies)-1].text, "!help")

	assert.Equal(t, OutcomeMissingArgument, d.Dispatch(ctx, msg("!remind   ")))
	assert.Contains(t, tr.replies[len(tr.replies)-1].text, "<b>message</b>")

	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!remind  water the plants ")))
	assert.Equal(t, "water the plants", got.Tail)

	assert.Equal(t, OutcomeMissingArgument, d.Dispatch(ctx, msg("!due")))
	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!due add Essay draft 2030-01-02")))
	assert.Equal(t, "add", got.Sub)
	assert.Equal(t, []string{"Essay", "draft", "2030-01-02"}, got.Args)
	assert.Equal(t, "Essay draft 2030-01-02", got.Rest)

	assert.Equal(t, OutcomeBadArgument, d.Dispatch(ctx, msg("!due delete abc")))
	assert.Equal(t, txtBadArgument, tr.replies[len(tr.replies)-1].text)

	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!admin")))
	notAdmin := msg("!admin")
	notAdmin.UserID = 2
	assert.Equal(t, OutcomePermissionDenied, d.Dispatch(ctx, notAdmin))
	assert.Equal(t, txtPermissionDenied, tr.replies[len(tr.replies)-1].text)

	private := msg("!admin")
	private.Private = true
	private.ChatID = private.UserID
	assert.Equal(t, OutcomePermissionDenied, d.Dispatch(ctx, private))
	private.Text = "!usercount"
	assert.Equal(t, OutcomeNoPrivateMessage, d.Dispatch(ctx, private))

	// nothing reached the admin so far
	assert.Empty(t, tr.notes)
	assert.Empty(t, rep.errs)

	assert.Equal(t, OutcomeFailed, d.Dispatch(ctx, msg("!boom")))
	assert.Equal(t, txtFailed, tr.replies[len(tr.replies)-1].text)
	require.Len(t, tr.notes, 1)
	assert.Equal(t, int64(adminID), tr.notes[0].chat)
	assert.Contains(t, tr.notes[0].text, "db is gone")
	assert.Contains(t, tr.notes[0].text, "alice")

	assert.Equal(t, OutcomeFailed, d.Dispatch(ctx, msg("!panic")))
	require.Len(t, tr.notes, 2)
	assert.Contains(t, tr.notes[1].text, "oops")
	assert.Len(t, rep.errs, 2)
}

func TestDispatch_AdminCheckFailure(t *testing.T) {
	d, tr := newTestDispatcher(t)
	tr.adminErr = errors.New("api down")
	require.NoError(t, d.Register(&Command{Name: "admin", AdminOnly: true, Run: func(context.Context, *Invocation) error { return nil }}))

	assert.Equal(t, OutcomeFailed, d.Dispatch(context.Background(), msg("!admin")))
	assert.Len(t, tr.notes, 1)
}

func TestDispatch_NoAdminConfigured(t *testing.T) {
	tr := &fakeTransport{}
	d := NewDispatcher("!", tr, 0, zap.NewNop().Sugar())
	require.NoError(t, d.Register(&Command{Name: "boom", Run: func(context.Context, *Invocation) error { return errors.New("x") }}))

	assert.Equal(t, OutcomeFailed, d.Dispatch(context.Background(), msg("!boom")))
	assert.Len(t, tr.replies, 1)
	assert.Empty(t, tr.notes)
}

func TestDispatch_RateLimit(t *testing.T) {
	d, tr := newTestDispatcher(t)
	d.SetRateLimit(1, 2)
	require.NoError(t, d.Register(&Command{Name: "ping", Run: func(context.Context, *Invocation) error { return nil }}))

	ctx := context.Background()
	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!ping")))
	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, msg("!ping")))
	assert.Equal(t, OutcomeRateLimited, d.Dispatch(ctx, msg("!ping")))
	assert.Equal(t, txtSlowDown, tr.replies[len(tr.replies)-1].text)

	other := msg("!ping")
	other.UserID = 2
	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, other))
}

func TestDispatch_RateLimitedUnknownCommands(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.SetRateLimit(1, 1)
	require.NoError(t, d.Register(&Command{Name: "ping", Run: func(context.Context, *Invocation) error { return nil }}))

	ctx := context.Background()
	junk := msg("!ping")
	junk.UserID = 7
	assert.Equal(t, OutcomeOK, d.Dispatch(ctx, junk))

	before := testutil.CollectAndCount(commandsTotal)
	for i := 0; i < 200; i++ {
		junk.Text = fmt.Sprintf("!junk%d", i)
		assert.Equal(t, OutcomeRateLimited, d.Dispatch(ctx, junk))
	}
	junk.Text = "!ping"
	assert.Equal(t, OutcomeRateLimited, d.Dispatch(ctx, junk))

	// at most ping/rate_limited and unknown/rate_limited are new
	assert.LessOrEqual(t, testutil.CollectAndCount(commandsTotal)-before, 2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(commandsTotal.WithLabelValues("unknown", string(OutcomeRateLimited))), 200.0)
}

func TestDispatch_AlertDetailTruncated(t *testing.T) {
	d, tr := newTestDispatcher(t)
	long := "x" + strings.Repeat("é", maxAlertDetail)
	require.NoError(t, d.Register(&Command{Name: "boom", Run: func(context.Context, *Invocation) error { return errors.New(long) }}))

	assert.Equal(t, OutcomeFailed, d.Dispatch(context.Background(), msg("!boom")))
	require.Len(t, tr.notes, 1)
	assert.True(t, utf8.ValidString(tr.notes[0].text))
	assert.Contains(t, tr.notes[0].text, "…</pre>")

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab…", truncate("abé", 3))
	assert.Equal(t, "abé…", truncate("abéd", 4))
}

func TestHelpText(t *testing.T) {
	d, _ := newTestDispatcher(t)
	noop := func(context.Context, *Invocation) error { return nil }
	require.NoError(t, d.Register(
		&Command{Name: "ping", Help: "Check the bot is alive", Run: noop},
		&Command{Name: "remind", Usage: "<message>", Help: "Save a reminder", Run: noop},
	))

	assert.Equal(t, "Available commands:\n"+
		"<code>!ping</code> - Check the bot is alive\n"+
		"<code>!remind &lt;message&gt;</code> - Save a reminder", d.HelpText())
}

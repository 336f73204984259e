package reminder

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studybuddy/bots/StudyBuddy/db"
	"studybuddy/bots/StudyBuddy/timezone"
)

const fmtReminder = "⏰ Reminder for %s: %s"

// Target is the chat that receives daily reminder broadcasts. It's unset until
// someone configures it and it isn't persisted.
type Target struct {
	mu     sync.RWMutex
	chatID int64
	set    bool
}

// Set overwrites the target chat
func (t *Target) Set(chatID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = chatID
	t.set = true
}

// Get returns the target chat and whether it's set
func (t *Target) Get() (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chatID, t.set
}

// Store is the part of the database the job reads from
type Store interface {
	AllReminders(ctx context.Context) ([]db.Reminder, error)
}

// Sender delivers broadcast messages
type Sender interface {
	// SendMessage sends HTML text to the chat
	SendMessage(ctx context.Context, chatID int64, text string) error
	// ChatExists reports whether the chat can receive messages
	ChatExists(ctx context.Context, chatID int64) bool
	// Mention returns an HTML mention of the user as seen in the chat
	Mention(ctx context.Context, chatID, usr int64) string
}

// Job broadcasts every stored reminder to the target once a day
type Job struct {
	store  Store
	sender Sender
	target *Target
	at     timezone.Clock
	loc    *time.Location
	clk    clock.Clock
	logger *zap.SugaredLogger
}

func NewJob(s Store, snd Sender, target *Target, at timezone.Clock, loc *time.Location, clk clock.Clock, l *zap.SugaredLogger) *Job {
	return &Job{
		store:  s,
		sender: snd,
		target: target,
		at:     at,
		loc:    loc,
		clk:    clk,
		logger: l,
	}
}

// Next returns the next firing time after now
func (j *Job) Next() time.Time {
	return timezone.NextDaily(j.clk.Now(), j.at, j.loc)
}

// Run fires the broadcast every day at the configured time until ctx is done.
func (j *Job) Run(ctx context.Context) {
	for {
		next := j.Next()
		j.logger.Infow("next reminder broadcast scheduled", "at", next)

		t := j.clk.NewTimer(next.Sub(j.clk.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		sent, err := j.Broadcast(ctx)
		if err != nil {
			j.logger.Errorw("failed broadcasting reminders", "err", err)
			continue
		}
		j.logger.Infow("reminders broadcast", "sent", sent)
	}
}

// Broadcast sends all reminders to the target chat and returns the number of
// delivered messages. A failure to deliver one reminder doesn't stop the rest.
func (j *Job) Broadcast(ctx context.Context) (int, error) {
	chatID, ok := j.target.Get()
	if !ok {
		return 0, nil
	}

	if !j.sender.ChatExists(ctx, chatID) {
		j.logger.Warnw("reminder target chat is unreachable; skipping broadcast", "chat", chatID)
		return 0, nil
	}

	reminders, err := j.store.AllReminders(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed reading reminders")
	}

	sent := 0
	for _, r := range reminders {
		txt := fmt.Sprintf(fmtReminder, j.sender.Mention(ctx, chatID, r.Owner), html.EscapeString(r.Text))
		if err := j.sender.SendMessage(ctx, chatID, txt); err != nil {
			j.logger.Errorw("failed sending reminder", "err", err, "usr", r.Owner, "reminder", r.ID)
			continue
		}
		sent++
	}

	return sent, nil
}

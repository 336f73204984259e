package tgbot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"studybuddy/bots/StudyBuddy/command"
	"studybuddy/bots/StudyBuddy/db"
	"studybuddy/bots/StudyBuddy/logger"
	"studybuddy/bots/StudyBuddy/pomodoro"
	"studybuddy/bots/StudyBuddy/quiz"
	"studybuddy/bots/StudyBuddy/quote"
	"studybuddy/bots/StudyBuddy/reminder"
	"studybuddy/bots/StudyBuddy/timezone"
)

const (
	txtPong                = "Pong!"
	txtNoQuote             = "Could not fetch a quote right now. Please try again later"
	txtAdminExecuted       = "Admin command executed."
	txtNoAssignments       = "You have no assignments."
	txtYourAssignments     = "Your assignments:\n"
	txtNoUpcoming          = "You have no upcoming assignments. Enjoy!"
	txtAssignmentNotFound  = "I couldn't find such an assignment"
	txtTimerAlreadyRunning = "You already have a running timer. Use <code>stop</code> to cancel it first"
	txtTimerStopped        = "⏹ Timer stopped. Nothing was recorded"
	txtNoActiveTimer       = "You don't have an active timer"
	txtQuizRunning         = "You are already taking a quiz. Finish it first"
	txtNoReminders         = "You have no reminders."
	txtYourReminders       = "Your reminders:\n"
	txtReminderNotFound    = "I couldn't find a reminder with this text"

	fmtQuote             = "💡 %s"
	fmtUserCount         = "This chat has %d members"
	fmtAssignmentAdded   = "Assignment <b>%s</b> due %s saved with id <code>%d</code>"
	fmtAssignment        = "[<code>%d</code>] %s - due %s (%s)\n"
	fmtNextAssignment    = "Next up: <b>%s</b>, due %s (%s)"
	fmtAssignmentDeleted = "Assignment <code>%d</code> deleted"
	fmtMinutesRange      = "I expected a number of minutes in the range of %d-%d"
	fmtTimerStarted      = "⏱ Pomodoro started for %d minutes. Focus!"
	fmtTimerDone         = "🍅 %s, your %d-minute pomodoro is over. Take a break!"
	fmtProgress          = "📈 Your progress\nStudy sessions: %d (%d minutes)\nQuizzes: %d, correct answers: %d/%d"
	fmtProgressRunning   = "\nRunning timer: %d minutes, started at %s"
	fmtNoQuiz            = "No quiz found for topic <b>%s</b>"
	fmtTargetSet         = "Daily reminders will be posted here at %s (%s)"
	fmtReminderSaved     = "Reminder saved: %s"
	fmtReminder          = "• %s\n"
	fmtRemindersDeleted  = "Deleted %d reminder(s)"
)

var errUnknownSubcommand = errors.New("unknown subcommand")

// Chat is the part of the Telegram API the handlers use
type Chat interface {
	command.Transport
	SendMessage(ctx context.Context, chatID int64, text string) error
	MemberCount(ctx context.Context, chatID int64) (int, error)
	Mention(ctx context.Context, chatID, usr int64) string
}

// Handlers implements the bot commands
type Handlers struct {
	Chat        Chat
	DB          *db.Database
	Quotes      *quote.Provider
	Timers      *pomodoro.Registry
	Quizzes     *quiz.Runner
	Target      *reminder.Target
	Dispatcher  *command.Dispatcher
	Clock       clock.Clock
	Location    *time.Location // reference zone for dates and the broadcast
	BroadcastAt timezone.Clock
	Logger      *zap.SugaredLogger
}

// Register adds every command to the dispatcher
func (h *Handlers) Register() error {
	return h.Dispatcher.Register(
		&command.Command{Name: "ping", Help: "Check bot status", Run: h.ping},
		&command.Command{Name: "quote", Help: "Get a random quote", Run: h.quote},
		&command.Command{Name: "help", Aliases: []string{"helpme"}, Help: "List commands", Run: h.help},
		&command.Command{Name: "usercount", Help: "Count members of this chat", GroupOnly: true, Run: h.userCount},
		&command.Command{Name: "admin", Help: "Admin-only command", AdminOnly: true, Run: h.admin},
		&command.Command{
			Name:  "due",
			Usage: "add <title> <YYYY-MM-DD> | list | next | delete <id>",
			Help:  "Track assignments",
			Shape: command.Subcommand,
			Run:   h.due,
		},
		&command.Command{Name: "pomodoro", Usage: "[minutes]", Help: "Start a study timer (25 minutes by default)", Shape: command.Tail, Param: "minutes", Run: h.pomodoro},
		&command.Command{Name: "stop", Help: "Stop your study timer", Run: h.stop},
		&command.Command{Name: "progress", Help: "Show your study and quiz stats", Run: h.progress},
		&command.Command{Name: "quiz", Usage: "[topic]", Help: "Take a quiz", Shape: command.Tail, Param: "topic", Run: h.quiz},
		&command.Command{Name: "setreminderhere", Help: "Post daily reminders to this chat", Run: h.setReminderHere},
		&command.Command{Name: "remind", Usage: "<message>", Help: "Save a reminder", Shape: command.Tail, Param: "message", Required: true, Run: h.remind},
		&command.Command{Name: "listreminders", Help: "List your reminders", Run: h.listReminders},
		&command.Command{Name: "deletereminder", Usage: "<text>", Help: "Delete reminders with exactly this text", Shape: command.Tail, Param: "text", Required: true, Run: h.deleteReminder},
	)
}

func (h *Handlers) reply(ctx context.Context, inv *command.Invocation, txt string) error {
	return h.Chat.Reply(ctx, inv.Message, txt)
}

func (h *Handlers) today() time.Time {
	return db.Today(h.Clock.Now().In(h.Location))
}

func (h *Handlers) ping(ctx context.Context, inv *command.Invocation) error {
	return h.reply(ctx, inv, txtPong)
}

func (h *Handlers) quote(ctx context.Context, inv *command.Invocation) error {
	q, src, err := h.Quotes.Get(ctx)
	if errors.Is(err, quote.ErrNoQuote) {
		return h.reply(ctx, inv, txtNoQuote)
	}
	if err != nil {
		return errors.Wrap(err, "failed getting quote")
	}

	h.Logger.Debugw("quote served", "source", src)
	return h.reply(ctx, inv, fmt.Sprintf(fmtQuote, html.EscapeString(q.String())))
}

func (h *Handlers) help(ctx context.Context, inv *command.Invocation) error {
	return h.reply(ctx, inv, h.Dispatcher.HelpText())
}

func (h *Handlers) userCount(ctx context.Context, inv *command.Invocation) error {
	n, err := h.Chat.MemberCount(ctx, inv.ChatID)
	if err != nil {
		return err
	}
	return h.reply(ctx, inv, fmt.Sprintf(fmtUserCount, n))
}

func (h *Handlers) admin(ctx context.Context, inv *command.Invocation) error {
	return h.reply(ctx, inv, txtAdminExecuted)
}

func (h *Handlers) due(ctx context.Context, inv *command.Invocation) error {
	switch inv.Sub {
	case "add":
		return h.addAssignment(ctx, inv)
	case "list":
		return h.listAssignments(ctx, inv)
	case "next":
		return h.nextAssignment(ctx, inv)
	case "delete":
		return h.deleteAssignment(ctx, inv)
	}
	return command.BadArgument(inv.Sub, errUnknownSubcommand)
}

func (h *Handlers) addAssignment(ctx context.Context, inv *command.Invocation) error {
	switch len(inv.Args) {
	case 0:
		return command.MissingArgument("title")
	case 1:
		return command.MissingArgument("date")
	}

	last := len(inv.Args) - 1
	title := strings.Join(inv.Args[:last], " ")
	due, err := db.ParseDate(inv.Args[last])
	if err != nil {
		return command.BadArgument(inv.Args[last], err)
	}

	a, err := h.DB.AddAssignment(ctx, inv.UserID, title, due)
	if err != nil {
		return err
	}

	return h.reply(ctx, inv, fmt.Sprintf(fmtAssignmentAdded, html.EscapeString(a.Title), a.DueDate.Format(db.DateLayout), a.ID))
}

func (h *Handlers) listAssignments(ctx context.Context, inv *command.Invocation) error {
	as, err := h.DB.ListAssignments(ctx, inv.UserID)
	if err != nil {
		return err
	}
	if len(as) == 0 {
		return h.reply(ctx, inv, txtNoAssignments)
	}

	today := h.today()
	var sb strings.Builder
	sb.WriteString(txtYourAssignments)
	for _, a := range as {
		sb.WriteString(fmt.Sprintf(fmtAssignment, a.ID, html.EscapeString(a.Title), a.DueDate.Format(db.DateLayout), db.RelativeDay(a.DueDate, today)))
	}
	return h.reply(ctx, inv, sb.String())
}

func (h *Handlers) nextAssignment(ctx context.Context, inv *command.Invocation) error {
	today := h.today()
	a, err := h.DB.NextAssignment(ctx, inv.UserID, today)
	if err != nil {
		return err
	}
	if a == nil {
		return h.reply(ctx, inv, txtNoUpcoming)
	}

	return h.reply(ctx, inv, fmt.Sprintf(fmtNextAssignment, html.EscapeString(a.Title), a.DueDate.Format(db.DateLayout), db.RelativeDay(a.DueDate, today)))
}

func (h *Handlers) deleteAssignment(ctx context.Context, inv *command.Invocation) error {
	if len(inv.Args) == 0 {
		return command.MissingArgument("id")
	}

	id, err := inv.Int(inv.Args[0])
	if err != nil {
		return err
	}

	ok, err := h.DB.DeleteAssignment(ctx, inv.UserID, int64(id))
	if err != nil {
		return err
	}
	if !ok {
		return h.reply(ctx, inv, txtAssignmentNotFound)
	}
	return h.reply(ctx, inv, fmt.Sprintf(fmtAssignmentDeleted, id))
}

func (h *Handlers) pomodoro(ctx context.Context, inv *command.Invocation) error {
	minutes := pomodoro.DefaultMinutes
	if inv.Tail != "" {
		n, err := inv.Int(strings.Fields(inv.Tail)[0])
		if err != nil {
			return err
		}
		minutes = n
	}

	msg := inv.Message
	_, err := h.Timers.Start(inv.UserID, minutes, func(s pomodoro.Session) {
		h.completePomodoro(ctx, msg, s)
	})
	switch {
	case errors.Is(err, pomodoro.ErrOutOfRange):
		return h.reply(ctx, inv, fmt.Sprintf(fmtMinutesRange, pomodoro.MinMinutes, pomodoro.MaxMinutes))
	case errors.Is(err, pomodoro.ErrAlreadyRunning):
		return h.reply(ctx, inv, txtTimerAlreadyRunning)
	case err != nil:
		return err
	}

	return h.reply(ctx, inv, fmt.Sprintf(fmtTimerStarted, minutes))
}

// completePomodoro records a naturally finished session and tells the user
func (h *Handlers) completePomodoro(ctx context.Context, msg command.Message, s pomodoro.Session) {
	if _, err := h.DB.AddStudySession(ctx, s.Owner, s.Minutes, s.StartedAt); err != nil {
		logger.ForUser(h.Logger, s.Owner, "failed saving study session", err)
		h.Dispatcher.Alert(ctx, "pomodoro", msg, err)
	}

	txt := fmt.Sprintf(fmtTimerDone, h.Chat.Mention(ctx, msg.ChatID, s.Owner), s.Minutes)
	if err := h.Chat.SendMessage(ctx, msg.ChatID, txt); err != nil {
		logger.ForUser(h.Logger, s.Owner, "failed sending pomodoro notification", err)
	}
}

func (h *Handlers) stop(ctx context.Context, inv *command.Invocation) error {
	if !h.Timers.Stop(inv.UserID) {
		return h.reply(ctx, inv, txtNoActiveTimer)
	}
	return h.reply(ctx, inv, txtTimerStopped)
}

func (h *Handlers) progress(ctx context.Context, inv *command.Invocation) error {
	ss, err := h.DB.GetStudyStats(ctx, inv.UserID)
	if err != nil {
		return err
	}
	qs, err := h.DB.GetQuizStats(ctx, inv.UserID)
	if err != nil {
		return err
	}

	txt := fmt.Sprintf(fmtProgress, ss.Sessions, ss.TotalMinutes, qs.Quizzes, qs.Correct, qs.Asked)
	if s, ok := h.Timers.Running(inv.UserID); ok {
		txt += fmt.Sprintf(fmtProgressRunning, s.Minutes, s.StartedAt.In(h.Location).Format("15:04"))
	}
	return h.reply(ctx, inv, txt)
}

func (h *Handlers) quiz(ctx context.Context, inv *command.Invocation) error {
	topic := quiz.DefaultTopic
	if inv.Tail != "" {
		topic = strings.Fields(inv.Tail)[0]
	}

	res, err := h.Quizzes.Run(ctx, inv.ChatID, inv.UserID, topic)
	switch {
	case errors.Is(err, quiz.ErrNoQuiz):
		return h.reply(ctx, inv, fmt.Sprintf(fmtNoQuiz, html.EscapeString(topic)))
	case errors.Is(err, quiz.ErrRunning):
		return h.reply(ctx, inv, txtQuizRunning)
	case err != nil:
		return errors.Wrap(err, "quiz failed")
	}

	if res.Attempted == 0 {
		return nil
	}
	if _, err := h.DB.AddQuizResult(ctx, inv.UserID, res.Topic, res.Correct, res.Attempted); err != nil {
		return err
	}
	return nil
}

func (h *Handlers) setReminderHere(ctx context.Context, inv *command.Invocation) error {
	h.Target.Set(inv.ChatID)
	h.Logger.Infow("reminder target changed", "chat", inv.ChatID, "usr", inv.UserID)
	return h.reply(ctx, inv, fmt.Sprintf(fmtTargetSet, h.BroadcastAt, h.Location))
}

func (h *Handlers) remind(ctx context.Context, inv *command.Invocation) error {
	r, err := h.DB.AddReminder(ctx, inv.UserID, inv.Tail)
	if err != nil {
		return err
	}
	return h.reply(ctx, inv, fmt.Sprintf(fmtReminderSaved, html.EscapeString(r.Text)))
}

func (h *Handlers) listReminders(ctx context.Context, inv *command.Invocation) error {
	rs, err := h.DB.ListReminders(ctx, inv.UserID)
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		return h.reply(ctx, inv, txtNoReminders)
	}

	var sb strings.Builder
	sb.WriteString(txtYourReminders)
	for _, r := range rs {
		sb.WriteString(fmt.Sprintf(fmtReminder, html.EscapeString(r.Text)))
	}
	return h.reply(ctx, inv, sb.String())
}

func (h *Handlers) deleteReminder(ctx context.Context, inv *command.Invocation) error {
	n, err := h.DB.DeleteReminders(ctx, inv.UserID, inv.Tail)
	if err != nil {
		return err
	}
	if n == 0 {
		return h.reply(ctx, inv, txtReminderNotFound)
	}
	return h.reply(ctx, inv, fmt.Sprintf(fmtRemindersDeleted, n))
}

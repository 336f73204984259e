package command

import (
	"context"
	"fmt"
	"html"
	"runtime/debug"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Shape is the argument grammar of a command
type Shape int

const (
	// NoArgs commands ignore anything after the name
	NoArgs Shape = iota
	// Tail commands take the rest of the line as a single free-text argument
	Tail
	// Subcommand commands take a subcommand name followed by a variable tail
	Subcommand
)

// Outcome of a dispatch
type Outcome string

const (
	OutcomeIgnored          Outcome = "ignored"
	OutcomeUnknown          Outcome = "unknown"
	OutcomeOK               Outcome = "ok"
	OutcomeMissingArgument  Outcome = "missing_argument"
	OutcomeBadArgument      Outcome = "bad_argument"
	OutcomePermissionDenied Outcome = "permission_denied"
	OutcomeNoPrivateMessage Outcome = "no_private_message"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeFailed           Outcome = "failed"
)

const (
	fmtUnknownCommand   = "I don't know this command. Use <code>%shelp</code> to list commands I know"
	fmtMissingArgument  = "Missing argument: <b>%s</b>. Use <code>%shelp</code> to see how to use the command"
	txtBadArgument      = "I couldn't understand your input. Please check the command and try again"
	txtPermissionDenied = "You do not have permission to use this command."
	txtNoPrivateMessage = "This command works only in group chats"
	txtSlowDown         = "Whoa, slow down a bit! Try again in a moment"
	txtFailed           = "Oops, something went wrong while running the command. The admin has been notified"
	fmtAdminAlert       = "⚠️ Command <code>%s</code> failed\nUser: %s (<code>%d</code>)\nChat: <code>%d</code>\n<pre>%s</pre>"
)

// maxAlertDetail keeps admin alerts under the Telegram message size limit
const maxAlertDetail = 3000

// Message is an inbound chat message
type Message struct {
	ChatID    int64
	UserID    int64
	UserName  string
	Private   bool // one-to-one chat with the bot
	MessageID int
	Text      string
}

// Invocation is a parsed command call
type Invocation struct {
	Message
	Name string   // command name as typed (may be an alias)
	Tail string   // trimmed text after the name
	Sub  string   // subcommand name for Subcommand commands
	Args []string // whitespace-separated tokens after Sub
	Rest string   // trimmed text after Sub
}

// Int parses the argument as an integer
func (inv *Invocation) Int(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, BadArgument(arg, errors.New("integer expected"))
	}
	return n, nil
}

type Handler func(ctx context.Context, inv *Invocation) error

// Command describes a registered command
type Command struct {
	Name      string
	Aliases   []string
	Usage     string // argument synopsis shown in help, e.g. "<message>"
	Help      string
	Shape     Shape
	Param     string // name of the Tail argument
	Required  bool   // the Tail argument must be present
	AdminOnly bool
	GroupOnly bool
	Run       Handler
}

// Transport is what the dispatcher needs from the chat platform
type Transport interface {
	// Reply sends HTML text to the chat the message came from
	Reply(ctx context.Context, msg Message, text string) error
	// Notify sends HTML text to the user privately
	Notify(ctx context.Context, usr int64, text string) error
	// IsAdmin reports whether the user administers the chat
	IsAdmin(ctx context.Context, chatID, usr int64) (bool, error)
}

// Reporter receives unhandled command failures, e.g. an error tracker
type Reporter interface {
	Report(err error, extras map[string]interface{})
}

// Dispatcher maps command lines to handlers
type Dispatcher struct {
	prefix    string
	commands  map[string]*Command
	ordered   []*Command
	transport Transport
	adminID   int64
	reporter  Reporter
	limiter   *userLimiter
	logger    *zap.SugaredLogger
}

func NewDispatcher(prefix string, t Transport, adminID int64, l *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		prefix:    prefix,
		commands:  make(map[string]*Command),
		transport: t,
		adminID:   adminID,
		logger:    l,
	}
}

// SetReporter adds a sink for unhandled failures
func (d *Dispatcher) SetReporter(r Reporter) {
	d.reporter = r
}

// SetRateLimit limits every user to perMinute commands with the given burst
func (d *Dispatcher) SetRateLimit(perMinute float64, burst int) {
	d.limiter = newUserLimiter(perMinute, burst)
}

// Prefix returns the command marker
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Register adds commands. Names and aliases must be unique.
func (d *Dispatcher) Register(cmds ...*Command) error {
	for _, c := range cmds {
		if c.Run == nil {
			return errors.Errorf("command %q has no handler", c.Name)
		}
		for _, name := range append([]string{c.Name}, c.Aliases...) {
			if _, ok := d.commands[name]; ok {
				return errors.Errorf("command %q is already registered", name)
			}
			d.commands[name] = c
		}
		d.ordered = append(d.ordered, c)
	}
	return nil
}

// Commands returns registered commands in registration order
func (d *Dispatcher) Commands() []*Command {
	return d.ordered
}

// Lookup returns the command registered under the exact name
func (d *Dispatcher) Lookup(name string) (*Command, bool) {
	c, ok := d.commands[name]
	return c, ok
}

// Parse splits a command line into the command name and the argument tail. It
// reports false if the text doesn't start with the prefix.
func (d *Dispatcher) Parse(text string) (string, string, bool) {
	if !strings.HasPrefix(text, d.prefix) {
		return "", "", false
	}

	line := text[len(d.prefix):]
	end := strings.IndexFunc(line, unicode.IsSpace)
	if end < 0 {
		end = len(line)
	}
	name, tail := line[:end], strings.TrimSpace(line[end:])

	// Telegram appends the bot name in groups: /cmd@SomeBot
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}

	return name, tail, true
}

// Dispatch runs the command in msg, replies to the user on failures and
// returns the outcome. It never panics.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Outcome {
	name, tail, ok := d.Parse(msg.Text)
	if !ok {
		return OutcomeIgnored
	}

	l := d.logger.With("cmd", name, "usr", msg.UserID, "chat", msg.ChatID)

	cmd, known := d.commands[name]
	label := "unknown"
	if known {
		label = cmd.Name
	}

	if d.limiter != nil && !d.limiter.allow(msg.UserID) {
		l.Warn("command rate limit exceeded")
		d.reply(ctx, l, msg, txtSlowDown)
		commandsTotal.WithLabelValues(label, string(OutcomeRateLimited)).Inc()
		return OutcomeRateLimited
	}

	if !known {
		l.Warn("unknown command")
		d.reply(ctx, l, msg, fmt.Sprintf(fmtUnknownCommand, html.EscapeString(d.prefix)))
		commandsTotal.WithLabelValues("unknown", string(OutcomeUnknown)).Inc()
		return OutcomeUnknown
	}

	l.Infow("command started", "user", msg.UserName)
	start := time.Now()

	err := d.invoke(ctx, cmd, &Invocation{Message: msg, Name: name, Tail: tail})
	outcome := d.classify(ctx, l, cmd, msg, err)

	took := time.Since(start)
	commandDuration.WithLabelValues(cmd.Name).Observe(took.Seconds())
	commandsTotal.WithLabelValues(cmd.Name, string(outcome)).Inc()
	l.Infow("command finished", "outcome", outcome, "took", took)

	return outcome
}

func (d *Dispatcher) invoke(ctx context.Context, cmd *Command, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()

	if cmd.GroupOnly && inv.Private {
		return ErrNoPrivateMessage
	}

	if cmd.AdminOnly {
		if inv.Private {
			return ErrPermissionDenied
		}
		ok, err := d.transport.IsAdmin(ctx, inv.ChatID, inv.UserID)
		if err != nil {
			return errors.Wrap(err, "failed checking administrator status")
		}
		if !ok {
			return ErrPermissionDenied
		}
	}

	switch cmd.Shape {
	case Tail:
		if cmd.Required && inv.Tail == "" {
			return MissingArgument(cmd.Param)
		}
	case Subcommand:
		fields := strings.Fields(inv.Tail)
		if len(fields) == 0 {
			return MissingArgument("subcommand")
		}
		inv.Sub = fields[0]
		inv.Args = fields[1:]
		inv.Rest = strings.TrimSpace(inv.Tail[strings.Index(inv.Tail, inv.Sub)+len(inv.Sub):])
	}

	return cmd.Run(ctx, inv)
}

func (d *Dispatcher) classify(ctx context.Context, l *zap.SugaredLogger, cmd *Command, msg Message, err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var missing *MissingArgumentError
	var bad *BadArgumentError
	switch {
	case errors.As(err, &missing):
		l.Infow("missing argument", "param", missing.Param)
		d.reply(ctx, l, msg, fmt.Sprintf(fmtMissingArgument, html.EscapeString(missing.Param), html.EscapeString(d.prefix)))
		return OutcomeMissingArgument

	case errors.As(err, &bad):
		l.Infow("bad argument", "err", err)
		d.reply(ctx, l, msg, txtBadArgument)
		return OutcomeBadArgument

	case errors.Is(err, ErrPermissionDenied):
		l.Warn("permission denied")
		d.reply(ctx, l, msg, txtPermissionDenied)
		return OutcomePermissionDenied

	case errors.Is(err, ErrNoPrivateMessage):
		d.reply(ctx, l, msg, txtNoPrivateMessage)
		return OutcomeNoPrivateMessage
	}

	l.Errorw("command failed", "err", err)
	d.reply(ctx, l, msg, txtFailed)
	d.escalate(ctx, l, cmd, msg, err)
	return OutcomeFailed
}

// escalate tells the administrator about an unhandled failure
func (d *Dispatcher) escalate(ctx context.Context, l *zap.SugaredLogger, cmd *Command, msg Message, err error) {
	if d.reporter != nil {
		d.reporter.Report(err, map[string]interface{}{
			"command": cmd.Name,
			"user":    msg.UserID,
			"chat":    msg.ChatID,
		})
	}

	if d.adminID == 0 {
		return
	}

	detail := truncate(err.Error(), maxAlertDetail)
	txt := fmt.Sprintf(fmtAdminAlert, html.EscapeString(cmd.Name), html.EscapeString(msg.UserName), msg.UserID, msg.ChatID, html.EscapeString(detail))
	if err := d.transport.Notify(ctx, d.adminID, txt); err != nil {
		l.Errorw("failed notifying admin", "err", err)
	}
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

// Alert sends an unhandled failure that happened outside of a command flow
// (e.g. in a timer callback) to the administrator
func (d *Dispatcher) Alert(ctx context.Context, what string, msg Message, err error) {
	d.escalate(ctx, d.logger.With("cmd", what), &Command{Name: what}, msg, err)
}

func (d *Dispatcher) reply(ctx context.Context, l *zap.SugaredLogger, msg Message, txt string) {
	if err := d.transport.Reply(ctx, msg, txt); err != nil {
		l.Errorw("failed replying", "err", err)
	}
}

// HelpText lists registered commands
func (d *Dispatcher) HelpText() string {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	for _, c := range d.ordered {
		sb.WriteString("<code>")
		sb.WriteString(html.EscapeString(d.prefix + c.Name))
		if c.Usage != "" {
			sb.WriteString(" ")
			sb.WriteString(html.EscapeString(c.Usage))
		}
		sb.WriteString("</code> - ")
		sb.WriteString(html.EscapeString(c.Help))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

package studybuddy

import (
	"context"
	"net/http"
	"time"

	tg "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"studybuddy/bot"
	"studybuddy/bots/StudyBuddy/command"
	"studybuddy/bots/StudyBuddy/db"
	"studybuddy/bots/StudyBuddy/logger"
	"studybuddy/bots/StudyBuddy/pomodoro"
	"studybuddy/bots/StudyBuddy/quiz"
	"studybuddy/bots/StudyBuddy/quote"
	"studybuddy/bots/StudyBuddy/reminder"
	"studybuddy/bots/StudyBuddy/tgbot"
	"studybuddy/bots/StudyBuddy/timezone"
)

// Version is reported to Rollbar
var Version = "dev"

type StudyBuddy struct {
	db         *db.Database
	dispatcher *command.Dispatcher
	inbox      *quiz.Inbox
	timers     *pomodoro.Registry
	job        *reminder.Job
	rollbar    *logger.Rollbar
	metrics    *http.Server
}

func (sb *StudyBuddy) Init(parent context.Context, cfg *bot.Config, l *zap.SugaredLogger) (*bot.Context, error) {
	at, err := timezone.ParseClock(cfg.BroadcastAt)
	if err != nil {
		l.Errorw("invalid broadcast time", "at", cfg.BroadcastAt, "err", err)
		return nil, err
	}

	loc, err := timezone.Load(cfg.BroadcastTimeZone)
	if err != nil {
		l.Errorw("failed to load broadcast time zone", "err", err)
		return nil, err
	}

	d, err := db.Open(cfg.DBDriver, cfg.DBConnStr)
	if err != nil {
		l.Errorw("failed to initialize database", "err", err)
		return nil, err
	}

	b, err := tg.NewBotAPI(cfg.TgToken)
	if err != nil {
		l.Errorw("failed to initialize Telegram Bot", "err", err)
		d.Close()
		return nil, err
	}

	b.Debug = false

	l.Infof("authorized on account %q", b.Self.UserName)

	clk := clock.New()
	tb := tgbot.NewTBot(b, cfg.TgRetryAttempts, cfg.TgRetryDelay, l)

	sb.db = d
	sb.inbox = quiz.NewInbox()
	sb.timers = pomodoro.NewRegistry(clk)
	sb.rollbar = logger.NewRollbar(cfg.RollbarToken, cfg.RollbarEnvironment, Version)

	sb.dispatcher = command.NewDispatcher(cfg.CommandPrefix, tb, cfg.AdminUserID, l)
	sb.dispatcher.SetRateLimit(cfg.CommandsPerMinute, cfg.CommandBurst)
	if sb.rollbar.Enabled() {
		sb.dispatcher.SetReporter(sb.rollbar)
	}
	if cfg.AdminUserID == 0 {
		l.Warn("ADMIN_USER_ID isn't set; failures won't be escalated")
	}

	target := &reminder.Target{}
	sb.job = reminder.NewJob(d, tb, target, at, loc, clk, l.With("job", "reminders"))

	h := &tgbot.Handlers{
		Chat: tb,
		DB:   d,
		Quotes: quote.NewProvider(cfg.QuoteURL, cfg.LocalQuotesFile, quote.RetryPolicy{
			MaxAttempts: cfg.QuoteMaxTries,
			Backoff:     cfg.QuoteBackoff,
			Timeout:     cfg.QuoteTimeout,
		}, l),
		Timers:      sb.timers,
		Quizzes:     quiz.NewRunner(cfg.FlashcardsDir, sb.inbox, tb, cfg.QuizTimeout, clk),
		Target:      target,
		Dispatcher:  sb.dispatcher,
		Clock:       clk,
		Location:    loc,
		BroadcastAt: at,
		Logger:      l,
	}
	if err := h.Register(); err != nil {
		l.Errorw("failed to register commands", "err", err)
		d.Close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		sb.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	return bot.NewContext(parent, b, l), nil
}

func (sb *StudyBuddy) Run(ctx *bot.Context) {
	if ctx.Bot == nil {
		ctx.Logger.Warn("Bot can't run")
		return
	}

	defer sb.shutdown(ctx.Logger)

	go sb.job.Run(ctx)

	if sb.metrics != nil {
		go func() {
			ctx.Logger.Infow("serving metrics", "addr", sb.metrics.Addr)
			if err := sb.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				ctx.Logger.Errorw("metrics server failed", "err", err)
			}
		}()
	}

	uCfg := tg.NewUpdate(0)
	uCfg.Timeout = 60

	updates := ctx.Bot.GetUpdatesChan(uCfg)
	go func() {
		<-ctx.Done()
		ctx.Bot.StopReceivingUpdates()
	}()

	for u := range updates {
		msg, ok := tgbot.ToMessage(u.Message)
		if !ok {
			continue
		}

		// a running quiz takes the next message of its user
		if sb.inbox.Deliver(msg.ChatID, msg.UserID, msg.Text) {
			ctx.WithUser(msg.UserID).Logger.Debugw("message consumed by quiz", "chat", msg.ChatID)
			continue
		}

		go sb.dispatcher.Dispatch(ctx, msg)
	}
}

func (sb *StudyBuddy) shutdown(l *zap.SugaredLogger) {
	if n := sb.timers.StopAll(); n > 0 {
		l.Infow("cancelled running timers", "count", n)
	}

	if sb.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sb.metrics.Shutdown(ctx); err != nil {
			l.Warnw("failed stopping metrics server", "err", err)
		}
	}

	sb.rollbar.Close(5 * time.Second)

	if err := sb.db.Close(); err != nil {
		l.Warnw("failed closing database", "err", err)
	}
	l.Info("bot stopped")
}

func init() {
	bot.Register("StudyBuddy", &StudyBuddy{})
}

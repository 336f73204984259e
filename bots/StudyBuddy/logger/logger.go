package logger

import (
	"time"

	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
)

// ForUser logs a failure that happened while serving the user
func ForUser(l *zap.SugaredLogger, usr int64, msg string, err error) {
	l.Errorw(msg, "usr", usr, "err", err)
}

// Rollbar forwards unhandled failures to Rollbar. A Rollbar with an empty
// token is disabled and drops everything.
type Rollbar struct {
	enabled bool
}

func NewRollbar(token, env, version string) *Rollbar {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetCodeVersion(version)
	rollbar.SetServerRoot("studybuddy")
	rollbar.SetStackTracer(rollbarerrors.StackTracer)
	rollbar.SetEnabled(token != "")
	return &Rollbar{enabled: token != ""}
}

// Enabled reports whether the reports go anywhere
func (r *Rollbar) Enabled() bool {
	return r.enabled
}

// Report sends the error with additional fields
func (r *Rollbar) Report(err error, extras map[string]interface{}) {
	if !r.enabled {
		return
	}
	rollbar.Error(err, extras)
}

// Close waits for queued reports to be sent
func (r *Rollbar) Close(timeout time.Duration) {
	if !r.enabled {
		return
	}
	done := make(chan struct{})
	go func() {
		rollbar.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}

package db

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// DateLayout is the only accepted format of assignment due dates
const DateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

type Reminder struct {
	ID        int64
	Owner     int64
	Text      string
	CreatedAt time.Time
}

type Assignment struct {
	ID      int64
	Owner   int64
	Title   string
	DueDate time.Time // midnight UTC of the due day
}

type StudySession struct {
	ID        int64
	Owner     int64
	Minutes   int
	StartedAt time.Time
}

type QuizResult struct {
	ID      int64
	Owner   int64
	Topic   string
	Score   int
	Total   int
	TakenAt time.Time
}

// StudyStats aggregates completed study sessions of a user
type StudyStats struct {
	Sessions     int64
	TotalMinutes int64
}

// QuizStats aggregates quiz results of a user
type QuizStats struct {
	Quizzes int64
	Correct int64
	Asked   int64
}

// ParseDate strictly parses a calendar date in the YYYY-MM-DD format.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDate, "%q", s)
	}
	return d, nil
}

// Today returns the calendar date of t as midnight UTC, so it's comparable with
// assignment due dates.
func Today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RelativeDay describes due relative to today: "today", "in K days" or
// "K days ago".
func RelativeDay(due, today time.Time) string {
	// Unix seconds of two UTC midnights differ by whole days, with no
	// time.Duration overflow for far dates
	days := int((Today(due).Unix() - Today(today).Unix()) / 86400)
	switch {
	case days == 0:
		return "today"
	case days == 1:
		return "in 1 day"
	case days > 1:
		return fmt.Sprintf("in %d days", days)
	case days == -1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", -days)
	}
}

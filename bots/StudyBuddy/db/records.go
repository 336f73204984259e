package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

type reminderRow struct {
	ID        int64  `db:"id"`
	Owner     int64  `db:"user_id"`
	Text      string `db:"message"`
	CreatedAt string `db:"created_at"`
}

type assignmentRow struct {
	ID      int64  `db:"id"`
	Owner   int64  `db:"user_id"`
	Title   string `db:"title"`
	DueDate string `db:"due_date"`
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (d *Database) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
	return id, err
}

// AddReminder saves a reminder for the user
func (d *Database) AddReminder(ctx context.Context, usr int64, text string) (*Reminder, error) {
	now := clk.Now()
	id, err := d.insert(ctx, `INSERT INTO reminders (user_id, message, created_at) VALUES (?, ?, ?)`,
		usr, text, formatTS(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed inserting reminder")
	}

	return &Reminder{ID: id, Owner: usr, Text: text, CreatedAt: now.UTC().Truncate(time.Second)}, nil
}

// ListReminders returns reminders of the user in the order they were added
func (d *Database) ListReminders(ctx context.Context, usr int64) ([]Reminder, error) {
	var rows []reminderRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(`SELECT id, user_id, message, created_at
FROM reminders
WHERE user_id=?
ORDER BY id ASC`), usr)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying reminders")
	}
	return toReminders(rows), nil
}

// AllReminders returns reminders of all users
func (d *Database) AllReminders(ctx context.Context) ([]Reminder, error) {
	var rows []reminderRow
	err := d.db.SelectContext(ctx, &rows, `SELECT id, user_id, message, created_at
FROM reminders
ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying all reminders")
	}
	return toReminders(rows), nil
}

// DeleteReminders deletes every reminder of the user whose text is exactly
// text and returns the number of deleted reminders
func (d *Database) DeleteReminders(ctx context.Context, usr int64, text string) (int64, error) {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM reminders WHERE user_id=? AND message=?`), usr, text)
	if err != nil {
		return 0, errors.Wrap(err, "failed deleting reminders")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed counting deleted reminders")
	}
	return n, nil
}

func toReminders(rows []reminderRow) []Reminder {
	reminders := make([]Reminder, 0, len(rows))
	for _, r := range rows {
		reminders = append(reminders, Reminder{ID: r.ID, Owner: r.Owner, Text: r.Text, CreatedAt: parseTS(r.CreatedAt)})
	}
	return reminders
}

// AddAssignment saves an assignment. The due date must be already validated
// with ParseDate.
func (d *Database) AddAssignment(ctx context.Context, usr int64, title string, due time.Time) (*Assignment, error) {
	due = Today(due)
	id, err := d.insert(ctx, `INSERT INTO assignments (user_id, title, due_date) VALUES (?, ?, ?)`,
		usr, title, due.Format(DateLayout))
	if err != nil {
		return nil, errors.Wrap(err, "failed inserting assignment")
	}

	return &Assignment{ID: id, Owner: usr, Title: title, DueDate: due}, nil
}

// ListAssignments returns assignments of the user ordered by due date
func (d *Database) ListAssignments(ctx context.Context, usr int64) ([]Assignment, error) {
	var rows []assignmentRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(`SELECT id, user_id, title, due_date
FROM assignments
WHERE user_id=?
ORDER BY due_date ASC, id ASC`), usr)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying assignments")
	}

	assignments := make([]Assignment, 0, len(rows))
	for _, r := range rows {
		assignments = append(assignments, r.toAssignment())
	}
	return assignments, nil
}

// NextAssignment returns the earliest assignment due today or later, or nil
// if there's none
func (d *Database) NextAssignment(ctx context.Context, usr int64, today time.Time) (*Assignment, error) {
	var row assignmentRow
	err := d.db.GetContext(ctx, &row, d.db.Rebind(`SELECT id, user_id, title, due_date
FROM assignments
WHERE user_id=? AND due_date>=?
ORDER BY due_date ASC, id ASC
LIMIT 1`), usr, Today(today).Format(DateLayout))

	switch {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "failed querying next assignment")
	}

	a := row.toAssignment()
	return &a, nil
}

// DeleteAssignment deletes the assignment if it belongs to the user. It
// reports whether the assignment was deleted.
func (d *Database) DeleteAssignment(ctx context.Context, usr int64, id int64) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM assignments WHERE id=? AND user_id=?`), id, usr)
	if err != nil {
		return false, errors.Wrap(err, "failed deleting assignment")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed counting deleted assignments")
	}
	return n > 0, nil
}

func (r assignmentRow) toAssignment() Assignment {
	due, err := time.Parse(DateLayout, r.DueDate)
	if err != nil {
		due = time.Time{}
	}
	return Assignment{ID: r.ID, Owner: r.Owner, Title: r.Title, DueDate: due}
}

// AddStudySession records a completed study session
func (d *Database) AddStudySession(ctx context.Context, usr int64, minutes int, startedAt time.Time) (*StudySession, error) {
	id, err := d.insert(ctx, `INSERT INTO study_sessions (user_id, minutes, started_at) VALUES (?, ?, ?)`,
		usr, minutes, formatTS(startedAt))
	if err != nil {
		return nil, errors.Wrap(err, "failed inserting study session")
	}

	return &StudySession{ID: id, Owner: usr, Minutes: minutes, StartedAt: startedAt}, nil
}

// ListStudySessions returns completed study sessions of the user, oldest first
func (d *Database) ListStudySessions(ctx context.Context, usr int64) ([]StudySession, error) {
	var rows []struct {
		ID        int64  `db:"id"`
		Owner     int64  `db:"user_id"`
		Minutes   int    `db:"minutes"`
		StartedAt string `db:"started_at"`
	}
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(`SELECT id, user_id, minutes, started_at
FROM study_sessions
WHERE user_id=?
ORDER BY id ASC`), usr)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying study sessions")
	}

	sessions := make([]StudySession, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, StudySession{ID: r.ID, Owner: r.Owner, Minutes: r.Minutes, StartedAt: parseTS(r.StartedAt)})
	}
	return sessions, nil
}

// GetStudyStats returns number and total length of the user's study sessions
func (d *Database) GetStudyStats(ctx context.Context, usr int64) (StudyStats, error) {
	var st StudyStats
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(`SELECT COUNT(*), COALESCE(SUM(minutes), 0)
FROM study_sessions
WHERE user_id=?`), usr).Scan(&st.Sessions, &st.TotalMinutes)
	if err != nil {
		return StudyStats{}, errors.Wrap(err, "failed querying study stats")
	}
	return st, nil
}

// AddQuizResult records the outcome of a finished quiz
func (d *Database) AddQuizResult(ctx context.Context, usr int64, topic string, score, total int) (*QuizResult, error) {
	now := clk.Now()
	id, err := d.insert(ctx, `INSERT INTO quiz_results (user_id, topic, score, total, taken_at) VALUES (?, ?, ?, ?, ?)`,
		usr, topic, score, total, formatTS(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed inserting quiz result")
	}

	return &QuizResult{ID: id, Owner: usr, Topic: topic, Score: score, Total: total, TakenAt: now.UTC().Truncate(time.Second)}, nil
}

// GetQuizStats returns aggregated quiz results of the user
func (d *Database) GetQuizStats(ctx context.Context, usr int64) (QuizStats, error) {
	var st QuizStats
	err := d.db.QueryRowxContext(ctx, d.db.Rebind(`SELECT COUNT(*), COALESCE(SUM(score), 0), COALESCE(SUM(total), 0)
FROM quiz_results
WHERE user_id=?`), usr).Scan(&st.Quizzes, &st.Correct, &st.Asked)
	if err != nil {
		return QuizStats{}, errors.Wrap(err, "failed querying quiz stats")
	}
	return st, nil
}

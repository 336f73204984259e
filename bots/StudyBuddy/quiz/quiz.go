package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

const (
	DefaultTopic   = "default"
	MaxQuestions   = 5
	DefaultTimeout = 20 * time.Second
)

const (
	fmtQuestion   = "<b>Q%d/%d:</b> %s"
	fmtCorrect    = "✅ Correct!"
	fmtWrong      = "❌ Wrong. The answer was: <b>%s</b>"
	fmtTimesUp    = "⌛ Time's up! The answer was: <b>%s</b>"
	fmtFinalScore = "🏁 Quiz finished! Your score: %d/%d"
)

var (
	ErrNoQuiz  = errors.New("no quiz found for topic")
	ErrRunning = errors.New("quiz is already running")
)

// Item is a question with the expected answer
type Item struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is the outcome of a finished quiz
type Result struct {
	Topic     string
	Correct   int
	Attempted int
}

// LoadTopic reads <dir>/<topic>.json. Missing, unparseable or empty topics
// are reported as ErrNoQuiz.
func LoadTopic(dir, topic string) ([]Item, error) {
	if topic == "" || topic == "." || topic == ".." || strings.ContainsAny(topic, `/\`) {
		return nil, errors.Wrapf(ErrNoQuiz, "%q", topic)
	}

	raw, err := os.ReadFile(filepath.Join(dir, topic+".json"))
	if err != nil {
		return nil, errors.Wrapf(ErrNoQuiz, "%q: %v", topic, err)
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrapf(ErrNoQuiz, "%q: %v", topic, err)
	}

	valid := items[:0]
	for _, it := range items {
		if strings.TrimSpace(it.Question) != "" && strings.TrimSpace(it.Answer) != "" {
			valid = append(valid, it)
		}
	}
	if len(valid) == 0 {
		return nil, errors.Wrapf(ErrNoQuiz, "%q is empty", topic)
	}
	return valid, nil
}

// IsCorrect compares the reply with the expected answer ignoring case and
// surrounding spaces
func IsCorrect(reply, answer string) bool {
	return strings.EqualFold(strings.TrimSpace(reply), strings.TrimSpace(answer))
}

// Sender delivers quiz messages
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Runner runs quiz sessions: one question at a time, each waiting for the
// next message of the same user in the same chat.
type Runner struct {
	dir     string
	inbox   *Inbox
	sender  Sender
	timeout time.Duration
	clk     clock.Clock

	mu     sync.Mutex
	active map[key]bool

	shuffle func([]Item)
}

func NewRunner(dir string, inbox *Inbox, s Sender, timeout time.Duration, clk clock.Clock) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{
		dir:     dir,
		inbox:   inbox,
		sender:  s,
		timeout: timeout,
		clk:     clk,
		active:  make(map[key]bool),
		shuffle: func(items []Item) {
			rand.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		},
	}
}

// Run loads the topic and quizzes the user. No message is sent if the topic
// can't be loaded.
func (r *Runner) Run(ctx context.Context, chatID, usr int64, topic string) (Result, error) {
	items, err := LoadTopic(r.dir, topic)
	if err != nil {
		return Result{}, err
	}

	k := key{chatID, usr}
	r.mu.Lock()
	if r.active[k] {
		r.mu.Unlock()
		return Result{}, ErrRunning
	}
	r.active[k] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, k)
		r.mu.Unlock()
	}()

	r.shuffle(items)
	if len(items) > MaxQuestions {
		items = items[:MaxQuestions]
	}

	res := Result{Topic: topic}
	for i, it := range items {
		ok, err := r.ask(ctx, chatID, usr, i+1, len(items), it)
		if err != nil {
			return res, err
		}

		res.Attempted++
		if ok {
			res.Correct++
		}
	}

	if err := r.sender.SendMessage(ctx, chatID, fmt.Sprintf(fmtFinalScore, res.Correct, res.Attempted)); err != nil {
		return res, errors.Wrap(err, "failed sending quiz score")
	}
	return res, nil
}

func (r *Runner) ask(ctx context.Context, chatID, usr int64, n, total int, it Item) (bool, error) {
	// start listening before the question is out so a quick reply isn't lost
	replies, cancel := r.inbox.Expect(chatID, usr)
	defer cancel()

	q := fmt.Sprintf(fmtQuestion, n, total, html.EscapeString(it.Question))
	if err := r.sender.SendMessage(ctx, chatID, q); err != nil {
		return false, errors.Wrap(err, "failed sending question")
	}

	t := r.clk.NewTimer(r.timeout)
	defer t.Stop()

	reply, answered, err := await(ctx, replies, t.C, cancel)
	if err != nil {
		return false, err
	}

	verdict := fmt.Sprintf(fmtTimesUp, html.EscapeString(it.Answer))
	correct := false
	if answered {
		correct = IsCorrect(reply, it.Answer)
		if correct {
			verdict = fmtCorrect
		} else {
			verdict = fmt.Sprintf(fmtWrong, html.EscapeString(it.Answer))
		}
	}

	if err := r.sender.SendMessage(ctx, chatID, verdict); err != nil {
		return correct, errors.Wrap(err, "failed sending verdict")
	}
	return correct, nil
}

// await waits for a reply until the deadline fires. A reply that the inbox
// already took when the deadline fires still counts: once the waiter is
// cancelled no new one can arrive, so the buffer is checked a last time.
func await(ctx context.Context, replies <-chan string, deadline <-chan time.Time, cancel func()) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case reply := <-replies:
		return reply, true, nil
	case <-deadline:
	}

	cancel()
	select {
	case reply := <-replies:
		return reply, true, nil
	default:
		return "", false, nil
	}
}

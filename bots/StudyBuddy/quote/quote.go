package quote

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

var (
	ErrNoQuote        = errors.New("no quote available")
	errBadStatus      = errors.New("unexpected status")
	errMalformedQuote = errors.New("malformed quote response")
	errEmptyPool      = errors.New("local quote pool is empty")
)

type Quote struct {
	Text   string
	Author string // empty for local quotes
}

func (q Quote) String() string {
	if q.Author == "" {
		return q.Text
	}
	return "“" + q.Text + "” — " + q.Author
}

// RetryPolicy bounds the remote fetch
type RetryPolicy struct {
	MaxAttempts int           // total number of requests, at least 1
	Backoff     time.Duration // pause between attempts
	Timeout     time.Duration // limit for a single request
}

// Provider fetches quotes from a zenquotes-compatible endpoint and falls back
// to a local JSON list of quotes.
type Provider struct {
	url       string
	localPool string
	policy    RetryPolicy
	client    *resty.Client
	logger    *zap.SugaredLogger
}

type zenQuote struct {
	Q string `json:"q"`
	A string `json:"a"`
}

func NewProvider(url, localPool string, policy RetryPolicy, l *zap.SugaredLogger) *Provider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	c := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(policy.Timeout)

	return &Provider{
		url:       url,
		localPool: localPool,
		policy:    policy,
		client:    c,
		logger:    l,
	}
}

// Get returns a remote quote or, if the remote endpoint is exhausted, a random
// quote from the local pool. ErrNoQuote is returned only if both fail.
func (p *Provider) Get(ctx context.Context) (Quote, Source, error) {
	q, err := p.Fetch(ctx)
	if err == nil {
		return q, SourceRemote, nil
	}
	p.logger.Warnw("failed fetching remote quote; using local pool", "err", err)

	q, err = p.Local()
	if err != nil {
		p.logger.Errorw("failed picking local quote", "err", err)
		return Quote{}, "", ErrNoQuote
	}
	return q, SourceLocal, nil
}

// Fetch requests a quote from the remote endpoint according to the retry
// policy.
func (p *Provider) Fetch(ctx context.Context) (Quote, error) {
	var q Quote
	attempt := 0

	op := func() error {
		attempt++
		var err error
		q, err = p.fetchOnce(ctx)
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.logger.Debugw("quote fetch attempt failed", "attempt", attempt, "retryIn", wait, "err", err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.policy.Backoff), uint64(p.policy.MaxAttempts-1)),
		ctx)

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return Quote{}, errors.Wrapf(err, "failed fetching quote after %d attempt(s)", attempt)
	}
	return q, nil
}

func (p *Provider) fetchOnce(ctx context.Context) (Quote, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return Quote{}, errors.Wrap(err, "failed requesting quote")
	}
	if !resp.IsSuccess() {
		return Quote{}, errors.Wrapf(errBadStatus, "%d", resp.StatusCode())
	}

	var quotes []zenQuote
	if err := json.Unmarshal(resp.Body(), &quotes); err != nil {
		return Quote{}, errors.Wrap(errMalformedQuote, err.Error())
	}
	if len(quotes) == 0 || strings.TrimSpace(quotes[0].Q) == "" {
		return Quote{}, errMalformedQuote
	}

	return Quote{Text: strings.TrimSpace(quotes[0].Q), Author: strings.TrimSpace(quotes[0].A)}, nil
}

// Local picks a random quote from the local pool. The pool file is read on
// every call so it can be edited while the bot is running.
func (p *Provider) Local() (Quote, error) {
	raw, err := os.ReadFile(p.localPool)
	if err != nil {
		return Quote{}, errors.Wrap(err, "failed reading local quotes")
	}

	var pool []string
	if err := json.Unmarshal(raw, &pool); err != nil {
		return Quote{}, errors.Wrap(err, "failed parsing local quotes")
	}

	nonEmpty := pool[:0]
	for _, q := range pool {
		if q = strings.TrimSpace(q); q != "" {
			nonEmpty = append(nonEmpty, q)
		}
	}
	if len(nonEmpty) == 0 {
		return Quote{}, errEmptyPool
	}

	return Quote{Text: nonEmpty[rand.IntN(len(nonEmpty))]}, nil
}

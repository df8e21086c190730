// Package enrich implements the affiliation enrichment pipeline: a client
// that resolves one work item against the author lookup service, and an
// engine that drives checkpointed passes over the full work list.
package enrich

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scholarmap/citemap-cli/internal/model"
	"github.com/scholarmap/citemap-cli/pkg/scholar"
)

// Strategy selects which profile field an affiliation is taken from.
type Strategy string

const (
	// StrategyAggressive uses the author's self-reported affiliation text.
	StrategyAggressive Strategy = "aggressive"
	// StrategyConservative uses only the service-verified organization,
	// canonicalized to a reference form.
	StrategyConservative Strategy = "conservative"
)

// ParseStrategy validates a strategy name from config or flags.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAggressive, StrategyConservative:
		return Strategy(s), nil
	default:
		return "", eris.Errorf("enrich: unknown strategy %q (want aggressive or conservative)", s)
	}
}

// Outcome classifies a single lookup attempt.
type Outcome int

const (
	// OutcomeSuccess means the lookup produced an affiliation record.
	OutcomeSuccess Outcome = iota
	// OutcomeNoData means the profile exists but lacks the needed field.
	// The engine treats it like a failure: the item stays outstanding.
	OutcomeNoData
	// OutcomeFailure means the lookup errored (network, rate limit, block).
	OutcomeFailure
)

// Result is the classified outcome of one lookup attempt.
type Result struct {
	Outcome Outcome
	Record  model.AffiliationRecord // set when Outcome is OutcomeSuccess
	Err     error                   // set when Outcome is OutcomeFailure
}

// Looker resolves one work item. The engine depends on this rather than on
// the concrete client so tests can substitute stubs.
type Looker interface {
	Lookup(ctx context.Context, item model.WorkItem) Result
}

// Client resolves work items against the scholar lookup service. Every
// external call is preceded by a randomized pacing delay: the service blocks
// callers that query at machine cadence, so the jitter is a correctness
// measure, not tuning.
type Client struct {
	svc      scholar.AuthorService
	strategy Strategy
	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithPacing overrides the pacing delay bounds.
func WithPacing(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minDelay = min
		c.maxDelay = max
	}
}

// WithSleep substitutes the pacing sleep (for tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates an enrichment client using the given lookup strategy.
// The strategy is fixed for the lifetime of the client (one engine run).
func NewClient(svc scholar.AuthorService, strategy Strategy, opts ...ClientOption) *Client {
	c := &Client{
		svc:      svc,
		strategy: strategy,
		minDelay: 1 * time.Second,
		maxDelay: 5 * time.Second,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup resolves one work item. Lookup never returns an error to the
// caller: transport and service failures are classified into the Result at
// this boundary.
func (c *Client) Lookup(ctx context.Context, item model.WorkItem) Result {
	// No-author items need no external call and no pacing delay.
	if item.NoAuthor() {
		return Result{Outcome: OutcomeSuccess, Record: model.SentinelRecord(item)}
	}

	if err := c.pace(ctx); err != nil {
		return Result{Outcome: OutcomeFailure, Err: err}
	}

	author, err := c.svc.AuthorByID(ctx, item.AuthorID)
	if err != nil {
		zap.L().Warn("author lookup failed",
			zap.String("author_id", item.AuthorID),
			zap.Error(err),
		)
		return Result{Outcome: OutcomeFailure, Err: err}
	}

	affiliation := author.Affiliation
	if c.strategy == StrategyConservative {
		affiliation = CanonicalOrganization(author.Organization)
	}
	if affiliation == "" {
		return Result{Outcome: OutcomeNoData}
	}

	return Result{Outcome: OutcomeSuccess, Record: model.AffiliationRecord{
		AuthorName:  author.Name,
		CitingPaper: item.CitingPaper,
		CitedPaper:  item.CitedPaper,
		Affiliation: affiliation,
	}}
}

// pace waits a uniformly distributed random delay in [minDelay, maxDelay).
func (c *Client) pace(ctx context.Context) error {
	d := c.minDelay
	if span := c.maxDelay - c.minDelay; span > 0 {
		d += rand.N(span)
	}
	return c.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package resolver turns arbitrary product references into product ids through an
// ordered chain of strategies, cheapest first.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-catalog/internal/catalog"
	"github.com/JakeFAU/affiliate-catalog/internal/metrics"
)

// ErrNoMatch is returned by a strategy that ran but found no product id.
var ErrNoMatch = errors.New("no product id found")

// Strategy is one tier of the resolution chain.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, rawURL string) (catalog.ProductID, error)
}

// Tier pairs a strategy with its own deadline. A zero Timeout leaves only the caller's deadline.
type Tier struct {
	Strategy Strategy
	Timeout  time.Duration
}

// Resolver walks its tiers in order until one yields an id.
type Resolver struct {
	tiers   []Tier
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New builds a Resolver over tiers. The order of tiers is the order of attempts.
func New(tiers []Tier, logger *zap.Logger, recorder *metrics.Recorder) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		tiers:   append([]Tier(nil), tiers...),
		logger:  logger,
		metrics: recorder,
	}
}

// Resolve returns the first id produced by a tier. Tier errors and timeouts demote
// to the next tier; catalog.ErrUnresolved is returned once every tier has failed.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (catalog.Resolution, error) {
	var lastErr error
	for _, tier := range r.tiers {
		if err := ctx.Err(); err != nil {
			return catalog.Resolution{}, fmt.Errorf("resolve %s: %w", rawURL, err)
		}
		name := tier.Strategy.Name()
		id, err := r.attempt(ctx, tier, rawURL)
		if err == nil && id != "" {
			r.metrics.ObserveResolution(name, metrics.OutcomeSuccess)
			r.logger.Debug("resolved product id",
				zap.String("url", rawURL),
				zap.String("tier", name),
				zap.String("id", string(id)),
			)
			return catalog.Resolution{ID: id, Tier: name}, nil
		}
		if err == nil {
			err = ErrNoMatch
		}
		outcome := metrics.OutcomeFailure
		if errors.Is(err, ErrNoMatch) {
			outcome = metrics.OutcomeMiss
		}
		r.metrics.ObserveResolution(name, outcome)
		r.logger.Debug("resolver tier demoted",
			zap.String("url", rawURL),
			zap.String("tier", name),
			zap.Error(err),
		)
		lastErr = err
	}
	if lastErr == nil {
		return catalog.Resolution{}, fmt.Errorf("resolve %s: %w", rawURL, catalog.ErrUnresolved)
	}
	return catalog.Resolution{}, fmt.Errorf("resolve %s: %w (last tier: %v)", rawURL, catalog.ErrUnresolved, lastErr)
}

func (r *Resolver) attempt(ctx context.Context, tier Tier, rawURL string) (catalog.ProductID, error) {
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}
	id, err := tier.Strategy.Attempt(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("%s tier: %w", tier.Strategy.Name(), err)
	}
	return id, nil
}

package supplier

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
)

// Multi queries several suppliers concurrently and merges their markets by
// identity. A failing member is skipped as long as one member succeeds.
type Multi struct {
	members []Supplier
	matcher *engine.Matcher
}

func NewMulti(members ...Supplier) *Multi {
	return &Multi{members: members}
}

// WithMatcher makes Multi fold differently worded titles of the same event
// into one title before merging.
func (m *Multi) WithMatcher(matcher *engine.Matcher) *Multi {
	m.matcher = matcher
	return m
}

func (m *Multi) Name() string {
	names := make([]string, len(m.members))
	for i, s := range m.members {
		names[i] = s.Name()
	}
	return "multi(" + strings.Join(names, ",") + ")"
}

func (m *Multi) FetchCategory(ctx context.Context, category string) (Batch, error) {
	return m.gather(ctx, func(ctx context.Context, s Supplier) (Batch, error) {
		return s.FetchCategory(ctx, category)
	})
}

func (m *Multi) FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error) {
	return m.gather(ctx, func(ctx context.Context, s Supplier) (Batch, error) {
		return s.FetchEvent(ctx, ref)
	})
}

func (m *Multi) gather(ctx context.Context, fetch func(context.Context, Supplier) (Batch, error)) (Batch, error) {
	if len(m.members) == 0 {
		return Batch{}, &Error{Supplier: m.Name(), Reason: ReasonNetwork, Err: errors.New("no suppliers configured")}
	}

	batches := make([]Batch, len(m.members))
	errs := make([]error, len(m.members))

	// Member errors are collected rather than returned so one failing venue
	// does not cancel the others.
	var g errgroup.Group
	for i, s := range m.members {
		i, s := i, s
		g.Go(func() error {
			b, err := fetch(ctx, s)
			if err != nil {
				errs[i] = wrap(s.Name(), err)
				return nil
			}
			batches[i] = b
			return nil
		})
	}
	_ = g.Wait()

	var out Batch
	var groups []string
	var firstErr error
	succeeded := 0
	for i := range m.members {
		if errs[i] != nil {
			logger.WithFields(map[string]any{
				"supplier": m.members[i].Name(),
				"reason":   ReasonOf(errs[i]),
			}).Warn("supplier fetch failed: %v", errs[i])
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		succeeded++
		b := batches[i]
		out.Markets = append(out.Markets, b.Markets...)
		for range b.Markets {
			groups = append(groups, m.members[i].Name())
		}
		if b.FetchedAt.After(out.FetchedAt) {
			out.FetchedAt = b.FetchedAt
		}
		if out.Source == "" || b.Source != models.SourceLive {
			out.Source = b.Source
		}
		if out.Failure == nil && b.Failure != nil {
			out.Failure = b.Failure
		}
	}

	if succeeded == 0 {
		return Batch{}, firstErr
	}
	if m.matcher != nil {
		m.matcher.Canonicalize(out.Markets, groups)
	}
	out.Markets = models.MergeMarkets(out.Markets)
	return out, nil
}

var _ Supplier = (*Multi)(nil)

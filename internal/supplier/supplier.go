// Package supplier fetches structured venue quotes from upstream sources and
// reports failures in a fixed taxonomy.
package supplier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

// Reason is the failure taxonomy shared with snapshot consumers.
type Reason string

const (
	ReasonTimeout        Reason = "TIMEOUT"
	ReasonNetwork        Reason = "NETWORK_ERROR"
	ReasonQuotaExhausted Reason = "QUOTA_EXHAUSTED"
)

var (
	ErrTimeout        = errors.New("supplier timed out")
	ErrNetwork        = errors.New("supplier network error")
	ErrQuotaExhausted = errors.New("supplier quota exhausted")
)

// Error is a classified supplier failure.
type Error struct {
	Supplier string
	Reason   Reason
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Supplier, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the failure reason.
func (e *Error) Is(target error) bool {
	switch e.Reason {
	case ReasonTimeout:
		return target == ErrTimeout
	case ReasonQuotaExhausted:
		return target == ErrQuotaExhausted
	case ReasonNetwork:
		return target == ErrNetwork
	}
	return false
}

// ReasonOf extracts the failure reason from err, defaulting to a network
// error for anything unclassified.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return classify(err)
}

// Batch is one supplier response. FetchedAt is the response time used for
// last-writer-wins ordering.
type Batch struct {
	Markets   []models.RawMarket `json:"markets"`
	FetchedAt time.Time          `json:"fetched_at"`
	Source    models.Source      `json:"source"`
	// Failure is set when the batch was served from a fallback after the
	// live fetch failed.
	Failure *Error `json:"-"`
}

// Supplier is a read-only quote source.
type Supplier interface {
	Name() string
	FetchCategory(ctx context.Context, category string) (Batch, error)
	FetchEvent(ctx context.Context, ref models.EventRef) (Batch, error)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("unexpected status %d", e.code)
}

func classify(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	var se *statusError
	if errors.As(err, &se) && (se.code == 429 || isQuotaBody(se.body)) {
		return ReasonQuotaExhausted
	}
	return ReasonNetwork
}

func wrap(name string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Supplier: name, Reason: classify(err), Err: err}
}

// filterMarkets keeps the markets matching ref.
func filterMarkets(markets []models.RawMarket, ref models.EventRef) []models.RawMarket {
	id := ref.ID
	if id == "" {
		id = models.EventID(ref.Title, ref.Outcome)
	}
	var out []models.RawMarket
	for _, m := range markets {
		if m.ID() == id {
			out = append(out, m)
		}
	}
	return out
}

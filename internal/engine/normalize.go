package engine

import (
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rewired-gh/polyedge/internal/models"
)

// venueQuotes collects the latest quote per side for one venue.
type venueQuotes struct {
	yes, no   *models.Quote
	liquidity float64
}

// Normalize converts the raw quotes of one market into canonical lines, one
// per venue that supplied a usable pair. Venues with unusable data are
// omitted, never defaulted.
func (e *Engine) Normalize(raw models.RawMarket) []models.Line {
	byVenue := make(map[string]*venueQuotes)
	var order []string

	for i := range raw.Quotes {
		q := raw.Quotes[i]
		q.Venue = strings.ToLower(strings.TrimSpace(q.Venue))
		if q.Venue == "" {
			continue
		}
		side := q.ResolvedSide()
		if side == models.SideUnknown {
			continue
		}
		if q.ObservedAt.IsZero() {
			q.ObservedAt = raw.FetchedAt
		}

		vq, exists := byVenue[q.Venue]
		if !exists {
			vq = &venueQuotes{}
			byVenue[q.Venue] = vq
			order = append(order, q.Venue)
		}
		if q.Liquidity != nil && *q.Liquidity > vq.liquidity && !math.IsNaN(*q.Liquidity) && !math.IsInf(*q.Liquidity, 0) {
			vq.liquidity = *q.Liquidity
		}

		if _, ok := e.toProbability(q); !ok {
			continue
		}
		slot := &vq.yes
		if side == models.SideNo {
			slot = &vq.no
		}
		// Latest observation wins; ties keep the first seen.
		if *slot == nil || q.ObservedAt.After((*slot).ObservedAt) {
			*slot = &q
		}
	}

	lines := make([]models.Line, 0, len(order))
	for _, venue := range order {
		if line, ok := e.buildLine(venue, byVenue[venue], raw); ok {
			lines = append(lines, line)
		}
	}
	e.sortLines(lines)
	return lines
}

func (e *Engine) buildLine(venue string, vq *venueQuotes, raw models.RawMarket) (models.Line, bool) {
	line := models.Line{Venue: venue, Liquidity: vq.liquidity}

	switch {
	case vq.yes != nil && vq.no != nil:
		yes, _ := e.toProbability(*vq.yes)
		no, _ := e.toProbability(*vq.no)
		line.Yes = models.Price{Value: yes, ObservedAt: vq.yes.ObservedAt}
		line.No = models.Price{Value: no, ObservedAt: vq.no.ObservedAt}
	case vq.yes != nil:
		yes, _ := e.toProbability(*vq.yes)
		line.Yes = models.Price{Value: yes, ObservedAt: vq.yes.ObservedAt}
		line.No = models.Price{Value: clamp(1 - yes), ObservedAt: vq.yes.ObservedAt}
		line.ImpliedNo = true
	case vq.no != nil && vq.no.Implied:
		no, _ := e.toProbability(*vq.no)
		line.Yes = models.Price{Value: clamp(1 - no), ObservedAt: vq.no.ObservedAt}
		line.No = models.Price{Value: no, ObservedAt: vq.no.ObservedAt}
		line.ImpliedYes = true
	default:
		return models.Line{}, false
	}

	line.URL = e.lineURL(venue, vq, raw)
	return line, true
}

// toProbability converts a quote price to a clamped probability. It returns
// false when the price cannot be interpreted.
func (e *Engine) toProbability(q models.Quote) (float64, bool) {
	v := q.Price
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	unit := q.Unit
	if unit == models.UnitUnspecified {
		if venue, ok := e.venues[q.Venue]; ok {
			unit = venue.DefaultUnit
		}
	}

	var p float64
	switch unit {
	case models.UnitProbability:
		p = v
	case models.UnitCents:
		p = v / 100
	case models.UnitAmerican:
		switch {
		case v > 0:
			p = 100 / (v + 100)
		case v < 0:
			p = -v / (-v + 100)
		default:
			return 0, false
		}
	case models.UnitDecimal:
		if v <= 0 {
			return 0, false
		}
		p = 1 / v
	case models.UnitUnspecified:
		// Undeclared unit from a venue outside the directory: above 1 reads
		// as cents, below 1 as probability. Exactly 1 is either 1 cent or
		// certainty and is dropped.
		switch {
		case v > 1:
			p = v / 100
		case v < 1:
			p = v
		default:
			return 0, false
		}
	default:
		return 0, false
	}
	return clamp(p), true
}

func clamp(p float64) float64 {
	return math.Max(models.MinPrice, math.Min(models.MaxPrice, p))
}

func (e *Engine) lineURL(venue string, vq *venueQuotes, raw models.RawMarket) string {
	for _, q := range []*models.Quote{vq.yes, vq.no} {
		if q != nil && isDeepLink(q.URL) {
			return q.URL
		}
	}
	return e.SearchURL(venue, raw.Title+" "+raw.Outcome)
}

func isDeepLink(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

var (
	outcomeNoise  = regexp.MustCompile(`(?i)\s(yes|no|will|won't|true|false)$`)
	trailingPunct = regexp.MustCompile(`[?.!]+$`)
	slugStrip     = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse  = regexp.MustCompile(`[\s_-]+`)
)

// SearchURL builds a venue search link for query. Unknown venues use the
// fallback template, which may reference {venue}.
func (e *Engine) SearchURL(venue, query string) string {
	clean := strings.TrimSpace(outcomeNoise.ReplaceAllString(strings.TrimSpace(query), ""))
	clean = trailingPunct.ReplaceAllString(clean, "")

	tmpl := e.config.FallbackSearchURL
	name := venue
	if v, ok := e.venues[venue]; ok {
		if v.SearchURL != "" {
			tmpl = v.SearchURL
		}
		if v.DisplayName != "" {
			name = v.DisplayName
		}
	}

	r := strings.NewReplacer(
		"{query}", url.QueryEscape(clean),
		"{slug}", slugify(clean),
		"{venue}", url.QueryEscape(name),
	)
	return r.Replace(tmpl)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// latest returns the most recent observation across lines, or zero.
func latest(lines []models.Line) time.Time {
	var t time.Time
	for _, l := range lines {
		if l.Yes.ObservedAt.After(t) {
			t = l.Yes.ObservedAt
		}
		if l.No.ObservedAt.After(t) {
			t = l.No.ObservedAt
		}
	}
	return t
}

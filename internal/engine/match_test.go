package engine

import (
	"testing"

	"github.com/rewired-gh/polyedge/internal/models"
)

const (
	lopezPoly    = "Will Claudia López win the 2026 Colombian presidential election?"
	lopezPredict = "Who will win the 2026 Colombian presidential election?"
	lopezKalshi  = "2026 Colombia president — Claudia López"
)

func TestMatchTitle(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{lopezPoly, "claudia lópez win the 2026 colombian presidential election"},
		{lopezPredict, "win the 2026 colombian presidential election"},
		{"Will the Fed cut rates by March 31?", "the fed cut rates"},
		{"Russia Ukraine ceasefire by end of 2026?", "russia ukraine ceasefire"},
		{"Will Gustavo Petro leave office before 2026?", "gustavo petro leave office"},
		{"Yes Inflation above 3% (CPI)", "inflation above 3%"},
	}
	for _, tt := range tests {
		if got := MatchTitle(tt.title); got != tt.want {
			t.Errorf("MatchTitle(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestEventKey(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{lopezPoly, "2026 colombian presidential election"},
		{lopezPredict, "2026 colombian presidential election"},
		{lopezKalshi, "2026 colombia president — claudia lópez"},
		{"Russia x Ukraine ceasefire in 2025?", "russia x ukraine ceasefire"},
		// Extracted key shorter than the minimum falls back to the title.
		{"Will Spain win Euro?", "spain win euro"},
	}
	for _, tt := range tests {
		if got := EventKey(tt.title); got != tt.want {
			t.Errorf("EventKey(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestTokenSortRatio(t *testing.T) {
	if got := TokenSortRatio("ukraine russia ceasefire", "russia ukraine ceasefire"); got != 100 {
		t.Errorf("reordered words = %v, want 100", got)
	}
	if got := TokenSortRatio("", ""); got != 100 {
		t.Errorf("empty strings = %v, want 100", got)
	}
	if got := TokenSortRatio("abcd", "wxyz"); got != 0 {
		t.Errorf("disjoint strings = %v, want 0", got)
	}
	// "abcd" vs "abce": lcs 3 over 8 runes.
	if got := TokenSortRatio("abcd", "abce"); !approx(got, 75, eps) {
		t.Errorf("one substitution = %v, want 75", got)
	}
}

func TestMatcher_Cluster(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())
	tests := []struct {
		name   string
		inputs []MatchInput
		want   []string
	}{
		{
			name: "venues word the same election differently",
			inputs: []MatchInput{
				{Title: lopezPoly, Category: "politics", Group: "polymarket"},
				{Title: lopezPredict, Category: "politics", Group: "predictit"},
				{Title: lopezKalshi, Category: "politics", Group: "kalshi"},
			},
			// The candidate-first wording scores below both thresholds.
			want: []string{lopezPoly, lopezPoly, lopezKalshi},
		},
		{
			name: "different years never match",
			inputs: []MatchInput{
				{Title: lopezPoly, Category: "politics", Group: "polymarket"},
				{Title: "Will Alex Rivera win the 2028 presidential election?", Category: "politics", Group: "predictit"},
			},
			want: []string{lopezPoly, "Will Alex Rivera win the 2028 presidential election?"},
		},
		{
			name: "different categories never match",
			inputs: []MatchInput{
				{Title: "Russia x Ukraine ceasefire in 2025?", Category: "world", Group: "kalshi"},
				{Title: "Russia Ukraine ceasefire in 2025?", Category: "politics", Group: "polymarket"},
			},
			want: []string{"Russia x Ukraine ceasefire in 2025?", "Russia Ukraine ceasefire in 2025?"},
		},
		{
			name: "same category matches on event key",
			inputs: []MatchInput{
				{Title: "Russia x Ukraine ceasefire in 2025?", Category: "world", Group: "kalshi"},
				{Title: "Russia Ukraine ceasefire in 2025?", Category: "world", Group: "polymarket"},
			},
			want: []string{"Russia x Ukraine ceasefire in 2025?", "Russia x Ukraine ceasefire in 2025?"},
		},
		{
			name: "one source keeps its candidates apart",
			inputs: []MatchInput{
				{Title: lopezPoly, Category: "politics", Group: "polymarket"},
				{Title: "Will Alex Rivera win the 2026 Colombian presidential election?", Category: "politics", Group: "polymarket"},
				{Title: lopezPredict, Category: "politics", Group: "predictit"},
			},
			want: []string{lopezPoly, "Will Alex Rivera win the 2026 Colombian presidential election?", lopezPoly},
		},
		{
			name: "identical titles from one source still merge",
			inputs: []MatchInput{
				{Title: "Fed cuts rates?", Category: "economics", Group: "feed"},
				{Title: "Fed cuts rates", Category: "economics", Group: "feed"},
			},
			want: []string{"Fed cuts rates?", "Fed cuts rates?"},
		},
		{
			name: "date suffix is ignored",
			inputs: []MatchInput{
				{Title: "Will the Fed cut rates by March 31?", Category: "economics", Group: "kalshi"},
				{Title: "Fed cut rates?", Category: "economics", Group: "polymarket"},
			},
			want: []string{"Will the Fed cut rates by March 31?", "Will the Fed cut rates by March 31?"},
		},
		{
			name: "unrelated titles stay apart",
			inputs: []MatchInput{
				{Title: "Will Gustavo Petro leave office before 2026?", Category: "politics"},
				{Title: "Fed cuts rates in March?", Category: "politics"},
			},
			want: []string{"Will Gustavo Petro leave office before 2026?", "Fed cuts rates in March?"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Cluster(tt.inputs)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d titles, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("title %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMatcher_ThresholdsAreConfigurable(t *testing.T) {
	strict := NewMatcher(MatchConfig{EventKeyThreshold: 101, TitleThreshold: 101})
	got := strict.Cluster([]MatchInput{
		{Title: lopezPoly, Group: "polymarket"},
		{Title: lopezPredict, Group: "predictit"},
	})
	if got[0] == got[1] {
		t.Errorf("thresholds above 100 should disable fuzzy matching, got %q", got)
	}
}

func TestMatcher_Canonicalize(t *testing.T) {
	m := NewMatcher(DefaultMatchConfig())
	markets := []models.RawMarket{
		{Title: lopezPoly, Outcome: "Yes", Category: "politics"},
		{Title: lopezPredict, Outcome: "Yes", Category: "politics"},
	}
	m.Canonicalize(markets, []string{"polymarket", "predictit"})

	if markets[1].Title != lopezPoly {
		t.Errorf("title = %q, want %q", markets[1].Title, lopezPoly)
	}
	if markets[0].ID() != markets[1].ID() {
		t.Error("matched markets should share an identity")
	}
}

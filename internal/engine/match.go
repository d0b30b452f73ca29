package engine

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/rewired-gh/polyedge/internal/models"
)

// MatchConfig holds the similarity thresholds (0-100) for clustering titles.
type MatchConfig struct {
	// EventKeyThreshold applies to the extracted event keys, which are more
	// normalized than full titles and tolerate a lower score.
	EventKeyThreshold float64
	TitleThreshold    float64
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{EventKeyThreshold: 78, TitleThreshold: 82}
}

// Applied in order.
var titleNoise = []*regexp.Regexp{
	regexp.MustCompile(`\?$`),
	regexp.MustCompile(`^will\s+`),
	regexp.MustCompile(`^who\s+will\s+`),
	regexp.MustCompile(`^which\s+party\s+will\s+`),
	regexp.MustCompile(`^which\s+of\s+these\s+\w+\s+`),
	regexp.MustCompile(`^what\s+will\s+`),
	regexp.MustCompile(`^how\s+many\s+`),
	regexp.MustCompile(`\s+by\s+\d{1,2}/\d{1,2}[/\d]*.*$`),
	regexp.MustCompile(`\s+by\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}.*$`),
	regexp.MustCompile(`\s+by\s+end\s+of\s+\d{4}.*$`),
	regexp.MustCompile(`\s+before\s+.{3,30}$`),
	regexp.MustCompile(`\s*\(.*?\)\s*`),
	regexp.MustCompile(`\s*\[.*?\]\s*`),
	regexp.MustCompile(`^yes\s+`),
	regexp.MustCompile(`^no\s+`),
}

// eventExtractors pull the core event out of a title, discarding the
// subject or candidate.
var eventExtractors = []*regexp.Regexp{
	regexp.MustCompile(`(?i)win\s+the\s+(.+)`),
	regexp.MustCompile(`(?i)win\s+(\d{4}.+)`),
	regexp.MustCompile(`(?i)win\s+([a-z].+)`),
	regexp.MustCompile(`(?i)control\s+the\s+(.+)`),
	regexp.MustCompile(`(?i)(.+?leave\s+(?:the\s+)?office.*)$`),
	regexp.MustCompile(`(?i)(.+?out\s+as\s+.+)$`),
	regexp.MustCompile(`(?i)^(.+?ceasefire)`),
	regexp.MustCompile(`(?i)^(.+?(?:snap\s+)?election.*)$`),
}

var (
	yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

const minEventKeyLen = 10

// MatchTitle normalizes a market title for fuzzy comparison.
func MatchTitle(title string) string {
	t := strings.TrimSpace(strings.ToLower(title))
	for _, rx := range titleNoise {
		t = strings.TrimSpace(rx.ReplaceAllString(t, ""))
	}
	return spaceRun.ReplaceAllString(t, " ")
}

// EventKey extracts the core event of a title, such as
// "2026 colombian presidential election". It falls back to MatchTitle.
func EventKey(title string) string {
	norm := MatchTitle(title)
	for _, rx := range eventExtractors {
		m := rx.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		if key := strings.TrimSpace(m[1]); utf8.RuneCountInString(key) >= minEventKeyLen {
			return key
		}
	}
	return norm
}

// TokenSortRatio scores two strings 0-100 after sorting their words, using
// the longest common subsequence: 200*lcs/(len(a)+len(b)).
func TokenSortRatio(a, b string) float64 {
	a, b = sortTokens(a), sortTokens(b)
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 200 * float64(edlib.LCS(a, b)) / float64(total)
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}

func yearsIn(s string) map[string]bool {
	found := yearPattern.FindAllString(s, -1)
	if len(found) == 0 {
		return nil
	}
	years := make(map[string]bool, len(found))
	for _, y := range found {
		years[y] = true
	}
	return years
}

func overlaps(a, b map[string]bool) bool {
	for y := range a {
		if b[y] {
			return true
		}
	}
	return false
}

// MatchInput is one title to cluster. Titles of different categories never
// match. Titles sharing a non-empty Group (the supplier that produced them)
// only match when their normalized titles are identical, since one source
// does not list the same event twice under different wording.
type MatchInput struct {
	Title    string
	Category string
	Group    string
}

type cluster struct {
	canonical string
	exact     string
	norm      string
	key       string
	category  string
	years     map[string]bool
	groups    map[string]bool
}

// Matcher clusters differently worded titles that describe the same event.
type Matcher struct {
	config MatchConfig
}

func NewMatcher(config MatchConfig) *Matcher {
	return &Matcher{config: config}
}

// Cluster returns the canonical title for each input, in input order. The
// canonical title is the first title seen in its cluster.
func (m *Matcher) Cluster(inputs []MatchInput) []string {
	out := make([]string, len(inputs))
	var clusters []*cluster

	for i, in := range inputs {
		norm := MatchTitle(in.Title)
		if norm == "" {
			out[i] = in.Title
			continue
		}
		exact := models.NormalizeTitle(in.Title)
		key := EventKey(in.Title)
		years := yearsIn(key)

		var match *cluster
		for _, c := range clusters {
			if m.matches(c, in, exact, norm, key, years) {
				match = c
				break
			}
		}

		if match == nil {
			match = &cluster{
				canonical: in.Title,
				exact:     exact,
				norm:      norm,
				key:       key,
				category:  in.Category,
				years:     years,
				groups:    make(map[string]bool),
			}
			clusters = append(clusters, match)
		}
		if in.Group != "" {
			match.groups[in.Group] = true
		}
		out[i] = match.canonical
	}
	return out
}

func (m *Matcher) matches(c *cluster, in MatchInput, exact, norm, key string, years map[string]bool) bool {
	if in.Category != "" && c.category != "" && in.Category != c.category {
		return false
	}
	if exact == c.exact {
		return true
	}
	if in.Group != "" && c.groups[in.Group] {
		return false
	}
	if len(years) > 0 && len(c.years) > 0 && !overlaps(years, c.years) {
		return false
	}
	if key != "" && c.key != "" && TokenSortRatio(key, c.key) >= m.config.EventKeyThreshold {
		return true
	}
	return TokenSortRatio(norm, c.norm) >= m.config.TitleThreshold
}

// Canonicalize rewrites market titles so that markets describing the same
// event share one title, and therefore one identity per outcome. groups,
// when non-nil, holds the producing supplier of each market.
func (m *Matcher) Canonicalize(markets []models.RawMarket, groups []string) {
	inputs := make([]MatchInput, len(markets))
	for i, mk := range markets {
		inputs[i] = MatchInput{Title: mk.Title, Category: mk.Category}
		if i < len(groups) {
			inputs[i].Group = groups[i]
		}
	}
	for i, title := range m.Cluster(inputs) {
		markets[i].Title = title
	}
}

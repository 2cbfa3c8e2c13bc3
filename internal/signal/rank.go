package signal

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Ranked is a signal with its computed scores.
type Ranked struct {
	Signal
	RankScore      float64 `json:"rank_score"`
	WeightedImpact float64 `json:"weighted_impact"`
}

// Rank scores every signal and returns them highest first. Ties go to the
// more severe signal, then the newer one, then the lower ID.
func Rank(signals []Signal) []Ranked {
	out := make([]Ranked, len(signals))
	for i, s := range signals {
		out[i] = Ranked{Signal: s, RankScore: RankScore(s), WeightedImpact: WeightedImpact(s)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		if wa, wb := a.Severity.Weight(), b.Severity.Weight(); wa != wb {
			return wa > wb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// Group is the display unit for signals sharing an event type.
type Group struct {
	Key                 string     `json:"key"`
	Title               string     `json:"title"`
	Primary             Ranked     `json:"primary"`
	Signals             []Ranked   `json:"signals"`
	GroupRankScore      float64    `json:"group_rank_score"`
	TotalWeightedImpact float64    `json:"total_weighted_impact"`
	MaxSeverity         Severity   `json:"max_severity"`
	MaxConfidence       Confidence `json:"max_confidence"`
	Count               int        `json:"count"`
}

// Actionable reports whether any member is not in a terminal status.
func (g *Group) Actionable() bool {
	for _, s := range g.Signals {
		if !s.ResolutionStatus.Terminal() {
			return true
		}
	}
	return false
}

// groupTitles maps event type substrings to display titles. First match wins.
var groupTitles = []struct {
	match string
	title string
}{
	{"customer", "Customer risk"},
	{"revenue", "Revenue decline"},
	{"margin", "Margin pressure"},
	{"cash", "Cash flow strain"},
	{"key_person", "Key person dependency"},
	{"owner", "Owner dependency"},
	{"employee", "Workforce risk"},
	{"legal", "Legal exposure"},
	{"litigation", "Legal exposure"},
	{"compliance", "Compliance gap"},
	{"tax", "Tax exposure"},
	{"competit", "Competitive pressure"},
	{"market", "Market shift"},
	{"document", "Documentation gap"},
}

var titleCaser = cases.Title(language.English)

// groupTitle returns the templated title for a group, or the primary's title
// with a related count when no template matches.
func groupTitle(eventType string, primary Ranked, count int) string {
	key := strings.ToLower(eventType)
	for _, t := range groupTitles {
		if strings.Contains(key, t.match) {
			if count > 1 {
				return fmt.Sprintf("%s (%d signals)", t.title, count)
			}
			return t.title
		}
	}

	title := primary.Title
	if title == "" {
		title = titleCaser.String(strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(eventType))
	}
	if count > 1 {
		return fmt.Sprintf("%s (+%d related)", title, count-1)
	}
	return title
}

// GroupSignals collapses ranked signals by event type. ranked must already be
// sorted by Rank; groups are returned by group rank descending.
//
// A group's primary, title and rank come from its highest-ranked
// non-terminal member, falling back to the top member when all are terminal.
// Terminal members are listed after the actionable ones.
func GroupSignals(ranked []Ranked) []Group {
	idx := make(map[string]int)
	var groups []Group
	for _, r := range ranked {
		i, ok := idx[r.EventType]
		if !ok {
			idx[r.EventType] = len(groups)
			groups = append(groups, Group{
				Key:           r.EventType,
				MaxSeverity:   r.Severity,
				MaxConfidence: r.Confidence,
			})
			i = len(groups) - 1
		}
		g := &groups[i]
		g.Signals = append(g.Signals, r)
		g.TotalWeightedImpact += r.WeightedImpact
		if r.Severity.Weight() > g.MaxSeverity.Weight() {
			g.MaxSeverity = r.Severity
		}
		if r.Confidence.Multiplier() > g.MaxConfidence.Multiplier() {
			g.MaxConfidence = r.Confidence
		}
	}

	for i := range groups {
		g := &groups[i]
		sort.SliceStable(g.Signals, func(a, b int) bool {
			return !g.Signals[a].ResolutionStatus.Terminal() && g.Signals[b].ResolutionStatus.Terminal()
		})
		g.Primary = g.Signals[0]
		g.GroupRankScore = g.Primary.RankScore
		g.Count = len(g.Signals)
		g.Title = groupTitle(g.Key, g.Primary, g.Count)
	}

	// First-appearance order already follows rank for sorted input; the stable
	// sort keeps it for equal scores.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].GroupRankScore > groups[j].GroupRankScore
	})
	return groups
}

// DefaultTopN is the number of groups shown at once.
const DefaultTopN = 3

// Display splits groups into those shown now and those queued.
type Display struct {
	Active []Group `json:"active"`
	Queued []Group `json:"queued"`
}

// SplitDisplay puts the top n groups in Active and the rest in Queued.
// Groups holding only terminal signals are queued while any actionable group
// exists. n <= 0 uses DefaultTopN.
func SplitDisplay(groups []Group, n int) Display {
	if n <= 0 {
		n = DefaultTopN
	}
	ordered := make([]Group, 0, len(groups))
	var terminal []Group
	for _, g := range groups {
		if g.Actionable() {
			ordered = append(ordered, g)
		} else {
			terminal = append(terminal, g)
		}
	}
	actionable := len(ordered)
	ordered = append(ordered, terminal...)

	limit := n
	if actionable > 0 && actionable < limit {
		limit = actionable
	}
	if limit > len(ordered) {
		limit = len(ordered)
	}
	return Display{Active: ordered[:limit:limit], Queued: ordered[limit:]}
}

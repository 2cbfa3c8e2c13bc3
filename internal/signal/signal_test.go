package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/valuation-engine/internal/calc"
)

func impact(v float64) *float64 { return &v }

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func sig(id string, sev Severity, conf Confidence, status ResolutionStatus, eventType string, imp *float64) Signal {
	return Signal{
		ID:                   id,
		Title:                "Signal " + id,
		Severity:             sev,
		Confidence:           conf,
		ResolutionStatus:     status,
		EventType:            eventType,
		Category:             "FINANCIAL",
		EstimatedValueImpact: imp,
		CreatedAt:            now.Add(-time.Hour),
	}
}

func TestWeightedImpactAndRankScore(t *testing.T) {
	s := sig("a", SeverityHigh, ConfidenceConfident, StatusOpen, "x", impact(-200_000))
	assert.InDelta(t, 150_000, WeightedImpact(s), 1e-9)
	// 4 * .75 * 1 * (150000/10000)
	assert.InDelta(t, 45, RankScore(s), 1e-9)

	s.EstimatedValueImpact = nil
	assert.Equal(t, 0.0, WeightedImpact(s))
	assert.InDelta(t, 3, RankScore(s), 1e-9)

	s.ResolutionStatus = StatusDismissed
	assert.InDelta(t, 0.3, RankScore(s), 1e-9)
}

func TestRank_CriticalVerifiedOutranksInfoUncertain(t *testing.T) {
	for _, amt := range []float64{0, 5_000, 50_000, 10_000_000} {
		hi := sig("hi", SeverityCritical, ConfidenceVerified, StatusOpen, "a", impact(amt))
		lo := sig("lo", SeverityInfo, ConfidenceUncertain, StatusOpen, "b", impact(amt))
		ranked := Rank([]Signal{lo, hi})
		assert.Equal(t, "hi", ranked[0].ID, "impact %v", amt)
		assert.Greater(t, ranked[0].RankScore, ranked[1].RankScore)
	}
}

func TestRank_TieBreaks(t *testing.T) {
	// HIGH/UNCERTAIN = 4*.25 = 1; LOW/SOMEWHAT = 2*.5 = 1.
	a := sig("a", SeverityLow, ConfidenceSomewhatConfident, StatusOpen, "x", nil)
	b := sig("b", SeverityHigh, ConfidenceUncertain, StatusOpen, "x", nil)
	older := sig("c", SeverityMedium, ConfidenceVerified, StatusOpen, "x", nil)
	older.CreatedAt = now.Add(-48 * time.Hour)
	newer := sig("d", SeverityMedium, ConfidenceVerified, StatusOpen, "x", nil)
	sameA := sig("f", SeverityInfo, ConfidenceVerified, StatusOpen, "x", nil)
	sameB := sig("e", SeverityInfo, ConfidenceVerified, StatusOpen, "x", nil)

	ranked := Rank([]Signal{a, b, older, newer, sameA, sameB})
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"d", "c", "b", "a", "e", "f"}, ids)
}

func TestGroupSignals(t *testing.T) {
	signals := []Signal{
		sig("1", SeverityMedium, ConfidenceConfident, StatusOpen, "customer_concentration", impact(20_000)),
		sig("2", SeverityCritical, ConfidenceVerified, StatusOpen, "customer_concentration", impact(80_000)),
		sig("3", SeverityLow, ConfidenceUncertain, StatusOpen, "zoning_change", nil),
		sig("4", SeverityLow, ConfidenceConfident, StatusOpen, "zoning_change", nil),
		sig("5", SeverityInfo, ConfidenceConfident, StatusOpen, "supplier_price_hike", nil),
	}
	signals[4].Title = ""

	groups := GroupSignals(Rank(signals))
	require.Len(t, groups, 3)

	cust := groups[0]
	assert.Equal(t, "customer_concentration", cust.Key)
	assert.Equal(t, 2, cust.Count)
	assert.Equal(t, "2", cust.Primary.ID)
	assert.InDelta(t, cust.Primary.RankScore, cust.GroupRankScore, 1e-9)
	assert.InDelta(t, 15_000+80_000, cust.TotalWeightedImpact, 1e-9)
	assert.Equal(t, SeverityCritical, cust.MaxSeverity)
	assert.Equal(t, ConfidenceVerified, cust.MaxConfidence)
	assert.Equal(t, "Customer risk (2 signals)", cust.Title)

	zoning := groups[1]
	assert.Equal(t, "4", zoning.Primary.ID)
	assert.Equal(t, "Signal 4 (+1 related)", zoning.Title)
	assert.Equal(t, ConfidenceConfident, zoning.MaxConfidence)

	assert.Equal(t, "Supplier Price Hike", groups[2].Title)
}

func TestSplitDisplay_DismissedNeverActive(t *testing.T) {
	signals := []Signal{
		sig("d1", SeverityCritical, ConfidenceVerified, StatusDismissed, "dismissed_thing", impact(10_000_000)),
		sig("o1", SeverityInfo, ConfidenceUncertain, StatusOpen, "open_thing", nil),
		sig("x1", SeverityCritical, ConfidenceVerified, StatusExpired, "expired_thing", impact(5_000_000)),
	}
	groups := GroupSignals(Rank(signals))
	require.Equal(t, "dismissed_thing", groups[0].Key)

	d := SplitDisplay(groups, 0)
	require.Len(t, d.Active, 1)
	assert.Equal(t, "open_thing", d.Active[0].Key)
	require.Len(t, d.Queued, 2)
	assert.Equal(t, "dismissed_thing", d.Queued[0].Key)
}

func TestSplitDisplay_MixedGroupLedByActionableMember(t *testing.T) {
	dismissed := sig("d", SeverityCritical, ConfidenceVerified, StatusDismissed, "supplier_loss", impact(10_000_000))
	dismissed.Title = "Dismissed"
	open := sig("o", SeverityInfo, ConfidenceUncertain, StatusOpen, "supplier_loss", nil)
	open.Title = "Supplier slow to pay"
	zoning := sig("z", SeverityMedium, ConfidenceConfident, StatusOpen, "zoning_change", nil)

	ranked := Rank([]Signal{dismissed, open, zoning})
	require.Equal(t, "d", ranked[0].ID)

	groups := GroupSignals(ranked)
	require.Len(t, groups, 2)
	assert.Equal(t, "zoning_change", groups[0].Key)

	mixed := groups[1]
	assert.Equal(t, "supplier_loss", mixed.Key)
	assert.Equal(t, "o", mixed.Primary.ID)
	assert.InDelta(t, 0.25, mixed.GroupRankScore, 1e-9)
	assert.Equal(t, "Supplier slow to pay (+1 related)", mixed.Title)
	require.Len(t, mixed.Signals, 2)
	assert.Equal(t, "o", mixed.Signals[0].ID)
	assert.Equal(t, "d", mixed.Signals[1].ID)
	// Aggregates still cover every member.
	assert.Equal(t, SeverityCritical, mixed.MaxSeverity)
	assert.Equal(t, 2, mixed.Count)

	d := SplitDisplay(groups, 0)
	require.Len(t, d.Active, 2)
	for _, g := range d.Active {
		assert.NotEqual(t, StatusDismissed, g.Primary.ResolutionStatus, "group %s", g.Key)
		assert.NotEqual(t, "Dismissed", g.Primary.Title)
	}
	assert.Empty(t, d.Queued)
}

func TestSplitDisplay_TopN(t *testing.T) {
	var signals []Signal
	for i, et := range []string{"a", "b", "c", "d", "e"} {
		s := sig(et, SeverityMedium, ConfidenceConfident, StatusOpen, et, impact(float64(i+1)*100_000))
		signals = append(signals, s)
	}
	d := SplitDisplay(GroupSignals(Rank(signals)), 3)
	require.Len(t, d.Active, 3)
	require.Len(t, d.Queued, 2)
	assert.Equal(t, "e", d.Active[0].Key)
	assert.Equal(t, "a", d.Queued[1].Key)
}

func TestSplitDisplay_OnlyTerminalGroups(t *testing.T) {
	signals := []Signal{
		sig("r1", SeverityHigh, ConfidenceConfident, StatusResolved, "r", nil),
		sig("r2", SeverityHigh, ConfidenceConfident, StatusDismissed, "s", nil),
	}
	d := SplitDisplay(GroupSignals(Rank(signals)), 3)
	assert.Len(t, d.Active, 2)
	assert.Empty(t, d.Queued)
}

func TestHistoricalSnapshot(t *testing.T) {
	cutoff := now.AddDate(0, 0, -30)
	before := cutoff.Add(-24 * time.Hour)
	afterCutoff := cutoff.Add(24 * time.Hour)

	stillOpen := sig("open", SeverityLow, ConfidenceConfident, StatusOpen, "x", impact(1))
	stillOpen.CreatedAt = before
	resolvedLater := sig("later", SeverityLow, ConfidenceConfident, StatusResolved, "x", impact(1))
	resolvedLater.CreatedAt = before
	resolvedLater.ResolvedAt = &afterCutoff
	resolvedEarly := sig("early", SeverityLow, ConfidenceConfident, StatusResolved, "x", impact(1))
	resolvedEarly.CreatedAt = before.Add(-time.Hour)
	resolvedEarly.ResolvedAt = &before
	createdAfter := sig("new", SeverityLow, ConfidenceConfident, StatusOpen, "x", impact(1))
	createdAfter.CreatedAt = afterCutoff
	acknowledged := sig("ack", SeverityLow, ConfidenceConfident, StatusAcknowledged, "x", impact(1))
	acknowledged.CreatedAt = before
	inProgress := sig("wip", SeverityLow, ConfidenceConfident, StatusInProgress, "x", impact(1))
	inProgress.CreatedAt = before
	ackAfter := sig("ack-new", SeverityLow, ConfidenceConfident, StatusAcknowledged, "x", impact(1))
	ackAfter.CreatedAt = afterCutoff
	dismissedEarly := sig("gone", SeverityLow, ConfidenceConfident, StatusDismissed, "x", impact(1))
	dismissedEarly.CreatedAt = before.Add(-time.Hour)
	dismissedEarly.ResolvedAt = &before

	snap := HistoricalSnapshot([]Signal{
		stillOpen, resolvedLater, resolvedEarly, createdAfter,
		acknowledged, inProgress, ackAfter, dismissedEarly,
	}, cutoff)
	ids := make([]string, len(snap))
	for i, s := range snap {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"open", "later", "ack", "wip"}, ids)
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		cur, prev float64
		want      Trend
	}{
		{100, 100, TrendStable},
		{104, 100, TrendStable},
		{96, 100, TrendStable},
		{106, 100, TrendIncreasing},
		{94, 100, TrendDecreasing},
		{0, 0, TrendStable},
		{10, 0, TrendIncreasing},
		{0, 10, TrendDecreasing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTrend(tt.cur, tt.prev, 0.05), "cur=%v prev=%v", tt.cur, tt.prev)
	}
}

func TestSummarize(t *testing.T) {
	old := now.AddDate(0, 0, -45)
	recent := now.AddDate(0, 0, -5)

	a := sig("a", SeverityHigh, ConfidenceVerified, StatusOpen, "customer", impact(100_000))
	a.CreatedAt = old
	b := sig("b", SeverityMedium, ConfidenceUncertain, StatusOpen, "tax", impact(-40_000))
	b.CreatedAt = recent
	b.Category = "LEGAL_TAX"
	c := sig("c", SeverityLow, ConfidenceConfident, StatusOpen, "market", nil)
	c.CreatedAt = recent
	d := sig("d", SeverityCritical, ConfidenceVerified, StatusAcknowledged, "legal", impact(500_000))
	d.CreatedAt = old
	e := sig("e", SeverityInfo, ConfidenceConfident, StatusOpen, "owner", impact(1_000))
	e.CreatedAt = recent

	s := Summarize([]Signal{a, b, c, d, e}, now, SummaryOptions{})

	assert.Equal(t, 4, s.SignalCount)
	assert.InDelta(t, 100_000+10_000+750, s.TotalValueAtRisk, 1e-9)
	assert.InDelta(t, 100_000+40_000+1_000, s.RawValueAtRisk, 1e-9)
	require.Len(t, s.TopThreats, 3)
	assert.Equal(t, "a", s.TopThreats[0].ID)
	for _, tt := range s.TopThreats {
		assert.NotEqual(t, "d", tt.ID)
	}

	assert.Equal(t, 3, s.ByCategory["FINANCIAL"].Count)
	assert.InDelta(t, 10_000, s.ByCategory["LEGAL_TAX"].ValueAtRisk, 1e-9)

	// a and d were open 30 days ago; d has since been acknowledged.
	assert.InDelta(t, 600_000, s.Trend.Previous, 1e-9)
	assert.Equal(t, TrendDecreasing, s.Trend.Direction)
	assert.Equal(t, now.AddDate(0, 0, -30), s.Trend.Cutoff)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, now, DefaultSummaryOptions())
	assert.Equal(t, 0, s.SignalCount)
	assert.Equal(t, 0.0, s.TotalValueAtRisk)
	assert.Empty(t, s.TopThreats)
	assert.Equal(t, TrendStable, s.Trend.Direction)
}

func TestConfidenceLadder(t *testing.T) {
	assert.Equal(t, ConfidenceConfident, Upgrade(ConfidenceUncertain))
	assert.Equal(t, ConfidenceConfident, Upgrade(ConfidenceSomewhatConfident))
	assert.Equal(t, ConfidenceVerified, Upgrade(ConfidenceConfident))
	assert.Equal(t, ConfidenceVerified, Upgrade(ConfidenceVerified))
	assert.Equal(t, ConfidenceNotApplicable, Upgrade(ConfidenceNotApplicable))

	assert.Equal(t, ConfidenceConfident, Downgrade(ConfidenceVerified))
	assert.Equal(t, ConfidenceUncertain, Downgrade(ConfidenceConfident))
	assert.Equal(t, ConfidenceUncertain, Downgrade(ConfidenceSomewhatConfident))
	assert.Equal(t, ConfidenceUncertain, Downgrade(ConfidenceUncertain))
	assert.Equal(t, ConfidenceNotApplicable, Downgrade(ConfidenceNotApplicable))
}

func TestConfirm(t *testing.T) {
	s := sig("a", SeverityHigh, ConfidenceUncertain, StatusOpen, "x", impact(100_000))
	after, tr, err := Confirm(s, "advisor@firm.com", now)
	require.NoError(t, err)

	assert.Equal(t, ConfidenceConfident, after.Confidence)
	assert.Equal(t, StatusOpen, after.ResolutionStatus)
	assert.Equal(t, StatusOpen, tr.StatusAfter)
	assert.Equal(t, ActionConfirm, tr.Action)
	assert.InDelta(t, 25_000, tr.ValueBefore, 1e-9)
	assert.InDelta(t, 75_000, tr.ValueAfter, 1e-9)
	assert.InDelta(t, 50_000, tr.ValueDelta, 1e-9)
	assert.Equal(t, now, tr.At)

	// Original is untouched.
	assert.Equal(t, ConfidenceUncertain, s.Confidence)
}

func TestConfirm_RaisesValueAtRisk(t *testing.T) {
	s := sig("a", SeverityHigh, ConfidenceUncertain, StatusOpen, "customer", impact(100_000))
	before := Summarize([]Signal{s}, now, SummaryOptions{})
	require.Equal(t, 1, before.SignalCount)
	assert.InDelta(t, 25_000, before.TotalValueAtRisk, 1e-9)

	confirmed, tr, err := Confirm(s, "advisor", now)
	require.NoError(t, err)
	after := Summarize([]Signal{confirmed}, now, SummaryOptions{})

	assert.Equal(t, 1, after.SignalCount)
	assert.InDelta(t, tr.ValueDelta, after.TotalValueAtRisk-before.TotalValueAtRisk, 1e-9)
	assert.InDelta(t, 75_000, after.TotalValueAtRisk, 1e-9)
	require.Len(t, after.TopThreats, 1)
	assert.Equal(t, ConfidenceConfident, after.TopThreats[0].Confidence)

	// A second confirm still counts.
	again, tr2, err := Confirm(confirmed, "advisor", now)
	require.NoError(t, err)
	third := Summarize([]Signal{again}, now, SummaryOptions{})
	assert.InDelta(t, after.TotalValueAtRisk+tr2.ValueDelta, third.TotalValueAtRisk, 1e-9)
}

func TestDismiss(t *testing.T) {
	s := sig("a", SeverityHigh, ConfidenceVerified, StatusInProgress, "x", impact(100_000))
	after, tr, err := Dismiss(s, "advisor", "duplicate", now)
	require.NoError(t, err)

	assert.Equal(t, ConfidenceConfident, after.Confidence)
	assert.Equal(t, StatusDismissed, after.ResolutionStatus)
	require.NotNil(t, after.ResolvedAt)
	assert.Equal(t, "duplicate", tr.Reason)
	assert.InDelta(t, -25_000, tr.ValueDelta, 1e-9)

	_, _, err = Dismiss(after, "advisor", "again", now)
	require.Error(t, err)
	assert.True(t, calc.IsInvalidInput(err))

	_, _, err = Confirm(after, "advisor", now)
	require.Error(t, err)
	assert.True(t, calc.IsInvalidInput(err))
}

func TestAdvance(t *testing.T) {
	s := sig("a", SeverityHigh, ConfidenceConfident, StatusAcknowledged, "x", nil)

	after, tr, err := Advance(s, StatusInProgress, "system", now)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, after.ResolutionStatus)
	assert.Nil(t, after.ResolvedAt)
	assert.Equal(t, StatusAcknowledged, tr.StatusBefore)

	_, _, err = Advance(after, StatusOpen, "system", now)
	require.Error(t, err)
	assert.True(t, calc.IsInvalidInput(err))

	done, _, err := Advance(after, StatusResolved, "system", now)
	require.NoError(t, err)
	require.NotNil(t, done.ResolvedAt)
	assert.Equal(t, now, *done.ResolvedAt)

	_, _, err = Advance(after, ResolutionStatus("ARCHIVED"), "system", now)
	require.Error(t, err)
}

func TestSignalNormalize(t *testing.T) {
	s := Signal{Severity: " high ", Confidence: "", ResolutionStatus: "open"}
	s.Normalize()
	assert.Equal(t, SeverityHigh, s.Severity)
	assert.Equal(t, ConfidenceUncertain, s.Confidence)
	assert.Equal(t, StatusOpen, s.ResolutionStatus)
	assert.True(t, s.Severity.Valid())
}

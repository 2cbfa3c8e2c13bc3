package montecarlo

import (
	"math"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/valuation-engine/internal/calc"
)

// Draw bands keep extreme samples from dominating the aggregates.
const (
	minReturn    = -0.40
	maxReturn    = 0.50
	minInflation = 0.0
	maxInflation = 0.15
)

// Simulator holds a validated plan. Iteration i always draws from a stream
// seeded by (Seed, i), so any partition of the iteration range produces the
// same outcomes.
type Simulator struct {
	assumptions Assumptions
	params      Params
	start       float64
}

// NewSimulator validates the inputs and fixes the starting balance.
func NewSimulator(assets []Asset, a Assumptions, p Params) (*Simulator, error) {
	if err := a.Validate(); err != nil {
		return nil, eris.Wrap(err, "montecarlo: assumptions")
	}
	if err := p.Validate(); err != nil {
		return nil, eris.Wrap(err, "montecarlo: params")
	}
	return &Simulator{assumptions: a, params: p, start: StartingBalance(assets, a)}, nil
}

// StartingBalance returns the deterministic starting balance.
func (s *Simulator) StartingBalance() float64 { return s.start }

// Iterations returns the configured iteration count.
func (s *Simulator) Iterations() int { return s.params.Iterations }

type sampler struct {
	ret, infl distuv.Normal
}

func newSampler(a Assumptions, p Params, seed, index uint64) sampler {
	src := rand.NewPCG(seed, index)
	return sampler{
		ret:  distuv.Normal{Mu: a.ExpectedReturn, Sigma: p.ReturnStdDev, Src: src},
		infl: distuv.Normal{Mu: a.InflationRate, Sigma: p.InflationStdDev, Src: src},
	}
}

func draw(n distuv.Normal, lo, hi float64) float64 {
	if n.Sigma == 0 {
		return calc.Clamp(n.Mu, lo, hi)
	}
	return calc.Clamp(n.Rand(), lo, hi)
}

func (sm sampler) next() (ret, infl float64) {
	return draw(sm.ret, minReturn, maxReturn), draw(sm.infl, minInflation, maxInflation)
}

// income returns the income received at age, scaled by the cumulative
// inflation index for adjusted streams.
func (s *Simulator) income(age int, inflationIndex float64) float64 {
	var total float64
	for _, st := range s.assumptions.IncomeStreams {
		if age < st.StartAge {
			continue
		}
		if st.InflationAdjusted {
			total += st.AnnualAmount * inflationIndex
		} else {
			total += st.AnnualAmount
		}
	}
	return total
}

// Iterate simulates lifetime i.
func (s *Simulator) Iterate(i int) IterationResult {
	a := s.assumptions
	sm := newSampler(a, s.params, s.params.Seed, uint64(i))

	balance := s.start
	spending := a.AnnualSpendingNeeds
	inflationIndex := 1.0

	for y := 0; y < a.AccumulationYears(); y++ {
		r, infl := sm.next()
		balance = balance*(1+r) + a.AnnualContributions
		spending *= 1 + infl
		inflationIndex *= 1 + infl
	}

	years := a.RetirementYears()
	for y := 1; y <= years; y++ {
		r, infl := sm.next()
		balance *= 1 + r

		age := a.RetirementAge + y - 1
		need := math.Max(0, spending-s.income(age, inflationIndex))
		balance -= need
		if balance <= 0 {
			return IterationResult{
				Index:         i,
				EndingBalance: 0,
				YearsLasted:   y - 1,
				RanOutOfMoney: true,
				FailureYear:   y,
			}
		}

		spending *= 1 + infl
		inflationIndex *= 1 + infl
	}

	return IterationResult{Index: i, EndingBalance: balance, YearsLasted: years}
}

// iterateRange simulates iterations [from, to) into out.
func (s *Simulator) iterateRange(out []IterationResult, from, to int) {
	for i := from; i < to; i++ {
		out[i] = s.Iterate(i)
	}
}

// Aggregate summarizes the outcomes of a run.
func (s *Simulator) Aggregate(outcomes []IterationResult) *Results {
	return aggregate(outcomes, s.start, s.assumptions.RetirementAge, s.assumptions.RetirementYears())
}

// Run executes every iteration synchronously.
func Run(assets []Asset, a Assumptions, p Params) (*Results, error) {
	sim, err := NewSimulator(assets, a, p)
	if err != nil {
		return nil, err
	}
	out := make([]IterationResult, p.Iterations)
	sim.iterateRange(out, 0, p.Iterations)
	return sim.Aggregate(out), nil
}

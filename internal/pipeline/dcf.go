package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-engine/internal/calc"
	"github.com/sells-group/valuation-engine/internal/dcf"
	"github.com/sells-group/valuation-engine/internal/store"
)

// DCFRequest describes one DCF run. Inputs.WACC of 0 is built up from
// WACCInputs (or the configured defaults); Inputs.ExitMultiple of 0 takes
// the configured default; an empty TerminalMethod means Gordon growth.
type DCFRequest struct {
	CompanyID  string          `json:"company_id" yaml:"company_id"`
	Inputs     dcf.Inputs      `json:"inputs" yaml:"inputs"`
	WACCInputs *dcf.WACCInputs `json:"wacc_inputs,omitempty" yaml:"wacc_inputs"`
	// EBITDA drives the exit multiple terminal value and the implied multiple.
	EBITDA   float64   `json:"ebitda" yaml:"ebitda"`
	Grid     *dcf.Grid `json:"grid,omitempty" yaml:"grid"`
	Save     bool      `json:"save" yaml:"save"`
	Activate bool      `json:"activate" yaml:"activate"`
}

// DCFResult is the outcome of RunDCF.
type DCFResult struct {
	WACC        *dcf.WACCResult     `json:"wacc,omitempty"`
	Inputs      dcf.Inputs          `json:"inputs"`
	Results     *dcf.Results        `json:"results"`
	Sensitivity *dcf.Sensitivity    `json:"sensitivity"`
	Saved       *store.DCFValuation `json:"saved,omitempty"`
}

// RunDCF builds the discount rate, runs the DCF and its sensitivity grid,
// and optionally persists the valuation as the company's active one.
func (p *Pipeline) RunDCF(ctx context.Context, req DCFRequest) (*DCFResult, error) {
	log := zap.L().With(zap.String("company_id", req.CompanyID))
	if (req.Save || req.Activate) && req.CompanyID == "" {
		return nil, calc.Invalid("company_id", "required to save a DCF valuation")
	}
	if req.Activate && !req.Save {
		return nil, calc.Invalid("activate", "requires save")
	}

	in := req.Inputs
	if in.TerminalMethod == "" {
		in.TerminalMethod = dcf.TerminalGordon
	}
	if in.ExitMultiple == 0 {
		in.ExitMultiple = p.cfg.DCF.ExitMultiple
	}

	out := &DCFResult{}
	if in.WACC == 0 {
		waccIn := p.cfg.DCF.WACC
		if req.WACCInputs != nil {
			waccIn = *req.WACCInputs
		}
		w, err := dcf.CalculateWACC(waccIn)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: wacc")
		}
		out.WACC = w
		in.WACC = w.WACC
	}
	out.Inputs = in

	res, err := dcf.CalculateDCF(in, req.EBITDA)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: dcf")
	}
	out.Results = res

	grid := p.cfg.DCF.Sensitivity
	if req.Grid != nil {
		grid = *req.Grid
	}
	sens, err := dcf.BuildSensitivity(in, req.EBITDA, grid)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: sensitivity")
	}
	out.Sensitivity = sens

	if req.Save {
		v := &store.DCFValuation{
			CompanyID:       req.CompanyID,
			Inputs:          in,
			Results:         *res,
			EnterpriseValue: store.Money(res.EnterpriseValue),
			EquityValue:     store.Money(res.EquityValue),
			Active:          req.Activate,
			CreatedAt:       p.now(),
		}
		if err := p.store.SaveDCFValuation(ctx, v); err != nil {
			return nil, eris.Wrap(err, "pipeline: save dcf valuation")
		}
		out.Saved = v
	}

	log.Info("pipeline: dcf complete",
		zap.Float64("wacc", in.WACC),
		zap.Float64("enterprise_value", res.EnterpriseValue),
		zap.Float64("terminal_share", res.TerminalShare),
		zap.Bool("saved", req.Save),
	)
	return out, nil
}

// ActivateDCF marks a saved DCF valuation as the company's active one.
func (p *Pipeline) ActivateDCF(ctx context.Context, companyID, id string) error {
	if companyID == "" || id == "" {
		return calc.Invalid("id", "company and valuation IDs are required")
	}
	return eris.Wrap(p.store.SetActiveDCFValuation(ctx, companyID, id), "pipeline: activate dcf valuation")
}

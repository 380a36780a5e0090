package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/script"
)

// Rule kinds read from products.
const (
	PricingKind     = "pricing"
	EligibilityKind = "eligibility"
)

// Coverage is a priced part of a contract.
type Coverage struct {
	Code       string      `json:"code" yaml:"code"`
	Components []Component `json:"components" yaml:"components"`
}

type partial struct {
	line Line
	errs []string
	skip bool
}

// fanOut runs price for n parts concurrently and keeps the results in part
// order.
func (c *Calculator) fanOut(ctx context.Context, n int, price func(ctx context.Context, i int) (partial, error)) (*Line, []string, error) {
	parts := make([]partial, n)
	eg, egCtx := errgroup.WithContext(ctx)
	if c.limit > 0 {
		eg.SetLimit(c.limit)
	}
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			p, err := price(egCtx, i)
			if err != nil {
				return err
			}
			parts[i] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	total := &Line{Kind: KindTotal, Amount: decimal.Zero, Details: []Line{}}
	var errs []string
	for _, p := range parts {
		errs = append(errs, p.errs...)
		if p.skip {
			continue
		}
		total.Amount = total.Amount.Add(p.line.Amount)
		total.Details = append(total.Details, p.line)
	}
	return total, errs, nil
}

// Aggregate prices every coverage and sums them. Coverages are priced
// concurrently; lines and errors keep the coverage order.
func (c *Calculator) Aggregate(ctx context.Context, coverages []Coverage, args map[string]any) (*Line, []string, error) {
	return c.fanOut(ctx, len(coverages), func(ctx context.Context, i int) (partial, error) {
		cov := coverages[i]
		line, errs, err := c.Calculate(ctx, cov.Components, args)
		if err != nil {
			return partial{}, fmt.Errorf("coverage %s: %w", cov.Code, err)
		}
		return partial{
			line: Line{Kind: KindCoverage, Code: cov.Code, Amount: line.Amount, Details: line.Details},
			errs: errs,
		}, nil
	})
}

// PriceProduct asks the product and each of its coverages for their
// pricing rule. Parts without one are left out of the total.
func (c *Calculator) PriceProduct(ctx context.Context, product *offered.Offered, args map[string]any) (*Line, []string, error) {
	parts := append([]*offered.Offered{product}, product.Children()...)
	return c.fanOut(ctx, len(parts), func(ctx context.Context, i int) (partial, error) {
		part := parts[i]
		res, err := part.Result(ctx, PricingKind, args)
		if errors.Is(err, offered.ErrNonExistingRuleKind) {
			return partial{skip: true}, nil
		}
		if err != nil {
			return partial{}, err
		}
		if res.HasErrors() {
			return partial{skip: true, errs: res.Errors}, nil
		}
		amount := decimal.Zero
		switch res.Value.Kind() {
		case script.KindDecimal:
			amount = res.Value.Dec().Round(Places)
		case script.KindNone:
			return partial{skip: true}, nil
		default:
			return partial{skip: true, errs: []string{fmt.Sprintf("%s: pricing rule returned %s, not an amount", part.Code, res.Value.Kind())}}, nil
		}
		return partial{line: Line{Kind: KindCoverage, Code: part.Code, Amount: amount}}, nil
	})
}

// EligibilityLine is the answer of an eligibility rule. Messages of the
// rule explain the decision.
type EligibilityLine struct {
	Eligible bool     `json:"eligible"`
	Details  []string `json:"details"`
}

// Eligibility runs the eligibility rule of product. A product without one
// is eligible; a rule reporting errors is not.
func Eligibility(ctx context.Context, product *offered.Offered, args map[string]any) (EligibilityLine, []string, error) {
	res, err := product.Result(ctx, EligibilityKind, args)
	if errors.Is(err, offered.ErrNonExistingRuleKind) {
		return EligibilityLine{Eligible: true, Details: []string{}}, nil, nil
	}
	if err != nil {
		return EligibilityLine{}, nil, err
	}
	line := EligibilityLine{
		Eligible: !res.HasErrors() && res.Value.Truthy(),
		Details:  append([]string{}, res.Messages...),
	}
	return line, res.Errors, nil
}

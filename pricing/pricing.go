// Package pricing turns rule results into premium lines: bases, taxes
// computed on the bases, and untaxed fees.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/liamcoop/ruleengine/script"
)

// Kind of a pricing component or line.
type Kind string

const (
	KindBase     Kind = "base"
	KindTax      Kind = "tax"
	KindFee      Kind = "fee"
	KindTotal    Kind = "total"
	KindCoverage Kind = "coverage"
)

// Places amounts are rounded to.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Component is one element of a price. Exactly one of Amount, Rate and
// RuleID is set. Bases are amounts and taxes are rates, both possibly
// given by a rule; a fee is either. Rates are percentages of the base
// total.
type Component struct {
	Kind   Kind             `json:"kind" yaml:"kind"`
	Code   string           `json:"code" yaml:"code"`
	Amount *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
	Rate   *decimal.Decimal `json:"rate,omitempty" yaml:"rate,omitempty"`
	RuleID string           `json:"rule_id,omitempty" yaml:"rule,omitempty"`
}

// Validate checks the component is well formed.
func (c Component) Validate() error {
	set := 0
	for _, ok := range []bool{c.Amount != nil, c.Rate != nil, c.RuleID != ""} {
		if ok {
			set++
		}
	}
	switch {
	case c.Kind != KindBase && c.Kind != KindTax && c.Kind != KindFee:
		return fmt.Errorf("component %s: unknown kind %q", c.Code, c.Kind)
	case set != 1:
		return fmt.Errorf("component %s: exactly one of amount, rate and rule must be set", c.Code)
	case c.Kind == KindBase && c.Rate != nil:
		return fmt.Errorf("component %s: a base cannot be a rate", c.Code)
	case c.Kind == KindTax && c.Amount != nil:
		return fmt.Errorf("component %s: a tax is a rate", c.Code)
	}
	return nil
}

// Line is a priced element. Totals and coverages carry their parts as
// details.
type Line struct {
	Kind    Kind             `json:"kind"`
	Code    string           `json:"code,omitempty"`
	Amount  decimal.Decimal  `json:"amount"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`
	Details []Line           `json:"details,omitempty"`
}

// Detail returns the first detail with code.
func (l *Line) Detail(code string) (Line, bool) {
	for _, d := range l.Details {
		if d.Code == code {
			return d, true
		}
	}
	return Line{}, false
}

// Evaluator runs a rule and returns its value and business errors.
type Evaluator interface {
	Evaluate(ctx context.Context, ruleID string, args map[string]any) (script.Value, []string, error)
}

// Calculator prices components.
type Calculator struct {
	rules Evaluator
	limit int
}

// NewCalculator returns a calculator evaluating rule components through
// rules. Aggregate runs at most limit coverages at once; zero means no limit.
func NewCalculator(rules Evaluator, limit int) *Calculator {
	return &Calculator{rules: rules, limit: limit}
}

// Calculate prices components for args. Bases are summed, taxes apply to
// the base total, fees are flat or a rate of the base total and are not
// taxed. Rule errors are returned next to the line; a component whose rule
// fails counts as zero.
func (c *Calculator) Calculate(ctx context.Context, components []Component, args map[string]any) (*Line, []string, error) {
	total := &Line{Kind: KindTotal, Details: []Line{}}
	var errs []string

	bases := decimal.Zero
	for _, comp := range components {
		if err := comp.Validate(); err != nil {
			return nil, nil, err
		}
		if comp.Kind != KindBase {
			continue
		}
		amount, compErrs, err := c.value(ctx, comp, comp.Amount, args)
		if err != nil {
			return nil, nil, err
		}
		errs = append(errs, compErrs...)
		amount = amount.Round(Places)
		bases = bases.Add(amount)
		total.Details = append(total.Details, Line{Kind: KindBase, Code: comp.Code, Amount: amount})
	}

	taxes, fees := decimal.Zero, decimal.Zero
	for _, kind := range []Kind{KindTax, KindFee} {
		for _, comp := range components {
			if comp.Kind != kind {
				continue
			}
			line, compErrs, err := c.onBases(ctx, comp, bases, args)
			if err != nil {
				return nil, nil, err
			}
			errs = append(errs, compErrs...)
			if kind == KindTax {
				taxes = taxes.Add(line.Amount)
			} else {
				fees = fees.Add(line.Amount)
			}
			total.Details = append(total.Details, line)
		}
	}

	total.Amount = bases.Add(taxes).Add(fees)
	return total, errs, nil
}

// onBases prices a tax or fee. Taxes always apply a rate to the bases;
// fees are flat unless given as a rate.
func (c *Calculator) onBases(ctx context.Context, comp Component, bases decimal.Decimal, args map[string]any) (Line, []string, error) {
	line := Line{Kind: comp.Kind, Code: comp.Code}
	if comp.Kind == KindFee && comp.Rate == nil {
		amount, errs, err := c.value(ctx, comp, comp.Amount, args)
		line.Amount = amount.Round(Places)
		return line, errs, err
	}

	rate, errs, err := c.value(ctx, comp, comp.Rate, args)
	if err != nil {
		return line, nil, err
	}
	line.Rate = &rate
	line.Amount = bases.Mul(rate).Div(hundred).Round(Places)
	return line, errs, nil
}

// value returns the fixed value when set, the rule value otherwise.
func (c *Calculator) value(ctx context.Context, comp Component, fixed *decimal.Decimal, args map[string]any) (decimal.Decimal, []string, error) {
	if fixed != nil {
		return *fixed, nil, nil
	}
	if comp.RuleID == "" {
		return decimal.Zero, nil, nil
	}
	if c.rules == nil {
		return decimal.Zero, nil, errors.New("no rule evaluator configured")
	}
	v, errs, err := c.rules.Evaluate(ctx, comp.RuleID, args)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("component %s: %w", comp.Code, err)
	}
	if len(errs) > 0 {
		return decimal.Zero, errs, nil
	}
	switch v.Kind() {
	case script.KindDecimal:
		return v.Dec(), nil, nil
	case script.KindNone:
		return decimal.Zero, nil, nil
	default:
		return decimal.Zero, []string{fmt.Sprintf("component %s: rule returned %s, not an amount", comp.Code, v.Kind())}, nil
	}
}

// Package fee converts billing intervals into money. Everything here is pure and
// deterministic so that staff and guest flows computing independently always agree.
package fee

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInterval is returned when the exit time is not after the entry time.
	ErrInvalidInterval = errors.New("fee: exit time must be after entry time")
	// ErrInvalidRate is returned for a negative hourly rate.
	ErrInvalidRate = errors.New("fee: hourly rate must be non-negative")
	// ErrInvalidTaxRate is returned for a negative tax percentage.
	ErrInvalidTaxRate = errors.New("fee: tax rate must be non-negative")
	// ErrInvalidHours is returned for negative billable hours.
	ErrInvalidHours = errors.New("fee: billable hours must be non-negative")
	// ErrInvalidFraction is returned when the initial fraction is outside 0..100 percent.
	ErrInvalidFraction = errors.New("fee: initial fraction must be between 0 and 100 percent")
	// ErrInvalidAmount is returned for negative monetary inputs.
	ErrInvalidAmount = errors.New("fee: amount must be non-negative")
)

var hundred = decimal.NewFromInt(100)

// Duration is a billing interval broken down for display and pricing.
type Duration struct {
	Hours         int           `json:"hours"`
	Minutes       int           `json:"minutes"`
	BillableHours int           `json:"billable_hours"`
	Elapsed       time.Duration `json:"-"`
}

// Fee is a priced interval. Total - Base == Tax always holds exactly.
type Fee struct {
	Base  decimal.Decimal `json:"base"`
	Tax   decimal.Decimal `json:"tax"`
	Total decimal.Decimal `json:"total"`
}

// Split divides an estimate into the amount collected up front and the remainder.
type Split struct {
	Initial decimal.Decimal `json:"initial"`
	Balance decimal.Decimal `json:"balance"`
}

// Estimate is what a reservation is priced at before the real duration is known.
type Estimate struct {
	Hours int   `json:"hours"`
	Fee   Fee   `json:"fee"`
	Split Split `json:"split"`
}

// Quote is the exit settlement for one session.
type Quote struct {
	Duration     Duration        `json:"duration"`
	ChargedHours int             `json:"charged_hours"`
	Fee          Fee             `json:"fee"`
	InitialPaid  decimal.Decimal `json:"initial_paid"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
	Clamped      bool            `json:"clamped"`
	Note         string          `json:"note,omitempty"`
}

// Policy holds the tariff knobs that vary per deployment.
type Policy struct {
	// TaxRatePercent is applied on top of the base fee at exit.
	TaxRatePercent decimal.Decimal `yaml:"taxRatePercent"`
	// InitialFractionPercent of the estimate is collected at booking or walk-in entry.
	InitialFractionPercent decimal.Decimal `yaml:"initialFractionPercent"`
	// EstimatedHours prices a reservation before the actual stay is known.
	EstimatedHours int `yaml:"estimatedHours"`
	// MinimumBillableHours is the floor charged at exit; 0 charges nothing for stays under a minute.
	MinimumBillableHours int `yaml:"minimumBillableHours"`
	// RoundingPlaces is the currency precision; 0 rounds to whole units.
	RoundingPlaces int32 `yaml:"roundingPlaces"`
}

// DefaultPolicy mirrors the tariff the gate screens have always used.
func DefaultPolicy() Policy {
	return Policy{
		TaxRatePercent:         decimal.NewFromInt(18),
		InitialFractionPercent: decimal.NewFromInt(25),
		EstimatedHours:         4,
		MinimumBillableHours:   1,
		RoundingPlaces:         0,
	}
}

// Validate checks that the policy can price anything at all.
func (p Policy) Validate() error {
	if p.TaxRatePercent.IsNegative() {
		return ErrInvalidTaxRate
	}
	if p.InitialFractionPercent.IsNegative() || p.InitialFractionPercent.GreaterThan(hundred) {
		return ErrInvalidFraction
	}
	if p.EstimatedHours < 0 || p.MinimumBillableHours < 0 {
		return ErrInvalidHours
	}
	if p.RoundingPlaces < 0 || p.RoundingPlaces > 4 {
		return fmt.Errorf("fee: rounding places %d out of range", p.RoundingPlaces)
	}
	return nil
}

// Calculator prices sessions under one policy.
type Calculator struct {
	policy Policy
}

// NewCalculator validates the policy and returns a calculator.
func NewCalculator(policy Policy) (*Calculator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{policy: policy}, nil
}

var defaultCalculator = &Calculator{policy: DefaultPolicy()}

// Policy returns the policy in force.
func (c *Calculator) Policy() Policy {
	return c.policy
}

func (c *Calculator) round(d decimal.Decimal) decimal.Decimal {
	// decimal.Round rounds half away from zero, which is half-up for the non-negative
	// amounts priced here.
	return d.Round(c.policy.RoundingPlaces)
}

// ComputeDuration measures the stay in whole minutes and bills every started hour.
func ComputeDuration(entry, exit time.Time) (Duration, error) {
	if !exit.After(entry) {
		return Duration{}, ErrInvalidInterval
	}
	elapsed := exit.Sub(entry)
	total := int(elapsed / time.Minute)
	return Duration{
		Hours:         total / 60,
		Minutes:       total % 60,
		BillableHours: (total + 59) / 60,
		Elapsed:       elapsed,
	}, nil
}

// ComputeFee prices billable hours with the default whole-unit precision.
func ComputeFee(billableHours int, hourlyRate, taxRatePercent decimal.Decimal) (Fee, error) {
	return defaultCalculator.ComputeFee(billableHours, hourlyRate, taxRatePercent)
}

// SplitInitialPayment splits an estimate with the default whole-unit precision.
func SplitInitialPayment(estimatedTotal, initialFractionPercent decimal.Decimal) (Split, error) {
	return defaultCalculator.SplitInitialPayment(estimatedTotal, initialFractionPercent)
}

// ComputeFee returns base, tax and the tax-inclusive total, all at the policy precision.
// The total is taxed on the rounded base so that Tax == Total - Base exactly.
func (c *Calculator) ComputeFee(billableHours int, hourlyRate, taxRatePercent decimal.Decimal) (Fee, error) {
	if billableHours < 0 {
		return Fee{}, ErrInvalidHours
	}
	if hourlyRate.IsNegative() {
		return Fee{}, ErrInvalidRate
	}
	if taxRatePercent.IsNegative() {
		return Fee{}, ErrInvalidTaxRate
	}

	base := c.round(hourlyRate.Mul(decimal.NewFromInt(int64(billableHours))))
	total := c.round(base.Mul(hundred.Add(taxRatePercent)).Div(hundred))
	return Fee{
		Base:  base,
		Tax:   total.Sub(base),
		Total: total,
	}, nil
}

// SplitInitialPayment rounds the initial share and leaves the balance unrounded, so
// Initial + Balance == estimatedTotal exactly.
func (c *Calculator) SplitInitialPayment(estimatedTotal, initialFractionPercent decimal.Decimal) (Split, error) {
	if estimatedTotal.IsNegative() {
		return Split{}, ErrInvalidAmount
	}
	if initialFractionPercent.IsNegative() || initialFractionPercent.GreaterThan(hundred) {
		return Split{}, ErrInvalidFraction
	}

	initial := c.round(estimatedTotal.Mul(initialFractionPercent).Div(hundred))
	if initial.GreaterThan(estimatedTotal) {
		initial = estimatedTotal
	}
	return Split{
		Initial: initial,
		Balance: estimatedTotal.Sub(initial),
	}, nil
}

// Estimate prices a reservation for the policy's estimated stay, untaxed, and splits
// off the initial payment.
func (c *Calculator) Estimate(hourlyRate decimal.Decimal) (Estimate, error) {
	f, err := c.ComputeFee(c.policy.EstimatedHours, hourlyRate, decimal.Zero)
	if err != nil {
		return Estimate{}, err
	}
	split, err := c.SplitInitialPayment(f.Total, c.policy.InitialFractionPercent)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Hours: c.policy.EstimatedHours, Fee: f, Split: split}, nil
}

// Settle prices a stay at exit. A total below what was already collected never produces a
// negative balance: the balance is clamped to zero and the difference explained in Note.
func (c *Calculator) Settle(entry, exit time.Time, hourlyRate, initialPaid decimal.Decimal) (Quote, error) {
	if initialPaid.IsNegative() {
		return Quote{}, ErrInvalidAmount
	}
	d, err := ComputeDuration(entry, exit)
	if err != nil {
		return Quote{}, err
	}

	charged := d.BillableHours
	if charged < c.policy.MinimumBillableHours {
		charged = c.policy.MinimumBillableHours
	}

	f, err := c.ComputeFee(charged, hourlyRate, c.policy.TaxRatePercent)
	if err != nil {
		return Quote{}, err
	}

	q := Quote{
		Duration:     d,
		ChargedHours: charged,
		Fee:          f,
		InitialPaid:  initialPaid,
		BalanceDue:   f.Total.Sub(initialPaid),
	}
	if q.BalanceDue.IsNegative() {
		q.Note = fmt.Sprintf("initial payment %s exceeds the final total %s; nothing further is due",
			initialPaid.StringFixed(c.policy.RoundingPlaces), f.Total.StringFixed(c.policy.RoundingPlaces))
		q.BalanceDue = decimal.Zero
		q.Clamped = true
	}
	return q, nil
}

package fundamentals

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Thresholds for the investment checks. Values are conservative on purpose:
// the battery is a screen for obviously sound companies, not a valuation.
const (
	maxDebtToEquity  = 0.5
	maxDebtToBook    = 1.0
	maxPriceToBook   = 3.0
	minBookValue     = 100_000_000
	minReturnPercent = 5.0
	maxReturnPercent = 40.0
	minAnnualPeriods = 4

	// earningsMultiple caps price at 20x sustained cash generation.
	earningsMultiple = 20.0
)

// YearCashFlow holds the resolved cash-flow items of one annual period.
type YearCashFlow struct {
	Year                 int     `msgpack:"year"`
	NetIncome            float64 `msgpack:"net_income"`
	GrossCashFlow        float64 `msgpack:"gross_cash_flow"`
	DebtIssuance         float64 `msgpack:"debt_issuance"`
	WorkingCapitalChange float64 `msgpack:"working_capital_change"`
	Depreciation         float64 `msgpack:"depreciation"`
	Depletion            float64 `msgpack:"depletion"`
	Amortization         float64 `msgpack:"amortization"`
	DeferredTaxes        float64 `msgpack:"deferred_taxes"`
	OtherNonCash         float64 `msgpack:"other_non_cash"`
	CapitalExpenditure   float64 `msgpack:"capital_expenditure"`
}

// NetCashFlow is cash generated net of borrowed money.
func (y YearCashFlow) NetCashFlow() float64 {
	return y.GrossCashFlow - y.DebtIssuance
}

// OwnerEarnings estimates cash generation available to shareholders: net
// income plus non-cash charges, minus capital expenditure, adjusted for the
// working-capital change.
func (y YearCashFlow) OwnerEarnings() float64 {
	return y.NetIncome +
		y.Depreciation + y.Depletion + y.Amortization +
		y.DeferredTaxes + y.OtherNonCash -
		y.CapitalExpenditure - y.WorkingCapitalChange
}

// CompanyModel is the aggregate financial state of one company, rebuilt from
// scratch from the full raw-report history on every run. Only resolved totals
// are stored; every ratio, check, and score below is a pure function of them,
// so re-deriving from a persisted snapshot always reproduces the same result.
type CompanyModel struct {
	InstrumentID int64 `msgpack:"instrument_id"`

	Price             float64 `msgpack:"price"`
	SharesOutstanding float64 `msgpack:"shares_outstanding"`

	ShareholdersEquity       float64 `msgpack:"shareholders_equity"`
	Goodwill                 float64 `msgpack:"goodwill"`
	Intangibles              float64 `msgpack:"intangibles"`
	LongTermDebt             float64 `msgpack:"long_term_debt"`
	DividendsPaid            float64 `msgpack:"dividends_paid"`
	RetainedEarnings         float64 `msgpack:"retained_earnings"`
	AdjustedRetainedEarnings float64 `msgpack:"adjusted_retained_earnings"`
	OldestRetainedEarnings   float64 `msgpack:"oldest_retained_earnings"`

	CashFlows map[int]YearCashFlow `msgpack:"cash_flows"`

	GeneratedAt time.Time `msgpack:"generated_at"`
}

func defined(v float64) bool { return !IsUndefined(v) }

// BookValue is equity net of goodwill and intangibles.
func (m *CompanyModel) BookValue() float64 {
	return m.ShareholdersEquity - (m.Goodwill + m.Intangibles)
}

func (m *CompanyModel) MarketCap() float64 {
	return m.Price * m.SharesOutstanding
}

func (m *CompanyModel) DebtToEquity() float64 {
	return SafeDivide(m.LongTermDebt, m.ShareholdersEquity, Undefined)
}

func (m *CompanyModel) DebtToBook() float64 {
	return SafeDivide(m.LongTermDebt, m.BookValue(), Undefined)
}

func (m *CompanyModel) PriceToBook() float64 {
	return SafeDivide(m.MarketCap(), m.BookValue(), Undefined)
}

// AverageNetCashFlow is the mean net cash flow over all processed annual
// periods, Undefined when none exist.
func (m *CompanyModel) AverageNetCashFlow() float64 {
	return m.averageCashFlow(YearCashFlow.NetCashFlow)
}

// AverageOwnerEarnings is the mean owner earnings over all processed annual
// periods, Undefined when none exist.
func (m *CompanyModel) AverageOwnerEarnings() float64 {
	return m.averageCashFlow(YearCashFlow.OwnerEarnings)
}

func (m *CompanyModel) averageCashFlow(item func(YearCashFlow) float64) float64 {
	if len(m.CashFlows) == 0 {
		return Undefined
	}
	values := make([]float64, 0, len(m.CashFlows))
	for _, year := range m.CashFlows {
		values = append(values, item(year))
	}
	return stat.Mean(values, nil)
}

// EstimatedNextYearBookValueFromCashFlow projects book value one year out by
// sustained net cash flow.
func (m *CompanyModel) EstimatedNextYearBookValueFromCashFlow() float64 {
	return m.estimatedNextYearBookValue(m.AverageNetCashFlow())
}

// EstimatedNextYearBookValueFromOwnerEarnings projects book value one year
// out by sustained owner earnings.
func (m *CompanyModel) EstimatedNextYearBookValueFromOwnerEarnings() float64 {
	return m.estimatedNextYearBookValue(m.AverageOwnerEarnings())
}

func (m *CompanyModel) estimatedNextYearBookValue(average float64) float64 {
	if !defined(average) {
		return Undefined
	}
	return m.BookValue() + average
}

// EstimatedReturnFromCashFlow is the sustained net cash flow plus current
// dividends as a percentage of market cap.
func (m *CompanyModel) EstimatedReturnFromCashFlow() float64 {
	return m.estimatedReturn(m.AverageNetCashFlow())
}

// EstimatedReturnFromOwnerEarnings is the sustained owner earnings plus
// current dividends as a percentage of market cap.
func (m *CompanyModel) EstimatedReturnFromOwnerEarnings() float64 {
	return m.estimatedReturn(m.AverageOwnerEarnings())
}

func (m *CompanyModel) estimatedReturn(average float64) float64 {
	if !defined(average) || m.MarketCap() <= 0 {
		return Undefined
	}
	return (average + m.DividendsPaid) / m.MarketCap() * 100
}

// Check names, in the order they contribute to the score.
const (
	CheckEnoughHistory            = "enough_history"
	CheckPositiveRetained         = "positive_retained_earnings"
	CheckPositiveAdjustedRetained = "positive_adjusted_retained_earnings"
	CheckRetainedGrowth           = "retained_earnings_growth"
	CheckDebtToEquity             = "debt_to_equity"
	CheckDebtToBook               = "debt_to_book"
	CheckBookValueFloor           = "book_value_floor"
	CheckPriceToBook              = "price_to_book"
	CheckPositiveCashFlow         = "positive_average_cash_flow"
	CheckPositiveOwnerEarnings    = "positive_average_owner_earnings"
	CheckCashFlowReturn           = "cash_flow_return_band"
	CheckOwnerEarningsReturn      = "owner_earnings_return_band"
)

// Checks evaluates the twelve investment predicates. An Undefined input
// always fails the predicate that consumes it.
func (m *CompanyModel) Checks() map[string]bool {
	debtToEquity := m.DebtToEquity()
	debtToBook := m.DebtToBook()
	priceToBook := m.PriceToBook()
	avgCashFlow := m.AverageNetCashFlow()
	avgOwnerEarnings := m.AverageOwnerEarnings()
	cashFlowReturn := m.EstimatedReturnFromCashFlow()
	ownerReturn := m.EstimatedReturnFromOwnerEarnings()

	return map[string]bool{
		CheckEnoughHistory:            len(m.CashFlows) >= minAnnualPeriods,
		CheckPositiveRetained:         m.RetainedEarnings > 0,
		CheckPositiveAdjustedRetained: m.AdjustedRetainedEarnings > 0,
		CheckRetainedGrowth:           m.AdjustedRetainedEarnings > m.OldestRetainedEarnings,
		CheckDebtToEquity:             defined(debtToEquity) && debtToEquity >= 0 && debtToEquity < maxDebtToEquity,
		CheckDebtToBook:               defined(debtToBook) && debtToBook >= 0 && debtToBook < maxDebtToBook,
		CheckBookValueFloor:           m.BookValue() > minBookValue,
		CheckPriceToBook:              defined(priceToBook) && priceToBook > 0 && priceToBook <= maxPriceToBook,
		CheckPositiveCashFlow:         defined(avgCashFlow) && avgCashFlow > 0,
		CheckPositiveOwnerEarnings:    defined(avgOwnerEarnings) && avgOwnerEarnings > 0,
		CheckCashFlowReturn:           inReturnBand(cashFlowReturn),
		CheckOwnerEarningsReturn:      inReturnBand(ownerReturn),
	}
}

func inReturnBand(r float64) bool {
	return defined(r) && r >= minReturnPercent && r < maxReturnPercent
}

// Score is the count of passed checks, 0 through 12.
func (m *CompanyModel) Score() int {
	score := 0
	for _, passed := range m.Checks() {
		if passed {
			score++
		}
	}
	return score
}

// PassesOverall reports whether every check passed.
func (m *CompanyModel) PassesOverall() bool {
	return m.Score() == len(m.Checks())
}

// MaxBuyPrice is a conservative per-share price ceiling: the minimum of the
// ceilings implied by the book-value check and both return checks, divided by
// shares outstanding. Undefined when shares outstanding is not positive or
// any required average is itself Undefined.
func (m *CompanyModel) MaxBuyPrice() float64 {
	if m.SharesOutstanding <= 0 {
		return Undefined
	}
	avgCashFlow := m.AverageNetCashFlow()
	avgOwnerEarnings := m.AverageOwnerEarnings()
	if !defined(avgCashFlow) || !defined(avgOwnerEarnings) {
		return Undefined
	}

	ceiling := maxPriceToBook * m.BookValue()
	if byCashFlow := earningsMultiple * (avgCashFlow + m.DividendsPaid); byCashFlow < ceiling {
		ceiling = byCashFlow
	}
	if byOwnerEarnings := earningsMultiple * (avgOwnerEarnings + m.DividendsPaid); byOwnerEarnings < ceiling {
		ceiling = byOwnerEarnings
	}
	return ceiling / m.SharesOutstanding
}

package fundamentals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeDivide(t *testing.T) {
	assert.Equal(t, 2.0, SafeDivide(10, 5, Undefined))
	assert.Equal(t, -4.0, SafeDivide(8, -2, Undefined))
	assert.True(t, IsUndefined(SafeDivide(10, 0, Undefined)))
	assert.Equal(t, 0.0, SafeDivide(7, 0, 0))
}

// passingModel builds a model that satisfies all twelve checks.
func passingModel() *CompanyModel {
	m := &CompanyModel{
		Price:                    80,
		SharesOutstanding:        10_000_000,
		ShareholdersEquity:       500_000_000,
		Goodwill:                 50_000_000,
		Intangibles:              50_000_000,
		LongTermDebt:             100_000_000,
		DividendsPaid:            20_000_000,
		RetainedEarnings:         200_000_000,
		AdjustedRetainedEarnings: 250_000_000,
		OldestRetainedEarnings:   50_000_000,
		CashFlows:                make(map[int]YearCashFlow),
	}
	for year := 2018; year <= 2021; year++ {
		m.CashFlows[year] = YearCashFlow{
			Year:          year,
			NetIncome:     60_000_000,
			GrossCashFlow: 60_000_000,
		}
	}
	return m
}

func TestDerivedMetrics(t *testing.T) {
	m := passingModel()

	assert.Equal(t, 400_000_000.0, m.BookValue())
	assert.Equal(t, 800_000_000.0, m.MarketCap())
	assert.Equal(t, 0.2, m.DebtToEquity())
	assert.Equal(t, 0.25, m.DebtToBook())
	assert.Equal(t, 2.0, m.PriceToBook())
	assert.Equal(t, 60_000_000.0, m.AverageNetCashFlow())
	assert.Equal(t, 60_000_000.0, m.AverageOwnerEarnings())
	assert.Equal(t, 10.0, m.EstimatedReturnFromCashFlow())
	assert.Equal(t, 10.0, m.EstimatedReturnFromOwnerEarnings())
	assert.Equal(t, 460_000_000.0, m.EstimatedNextYearBookValueFromCashFlow())
}

func TestAllChecksPass(t *testing.T) {
	m := passingModel()

	checks := m.Checks()
	require.Len(t, checks, 12)
	for name, passed := range checks {
		assert.True(t, passed, "check %s should pass", name)
	}
	assert.Equal(t, 12, m.Score())
	assert.True(t, m.PassesOverall())
}

func TestScoreEqualsCountOfPassedChecks(t *testing.T) {
	m := passingModel()
	m.LongTermDebt = 450_000_000 // fails debt/equity and debt/book
	m.Price = 300                // fails price/book and both return bands

	passed := 0
	for _, ok := range m.Checks() {
		if ok {
			passed++
		}
	}
	assert.Equal(t, passed, m.Score())
	assert.Equal(t, 7, m.Score())
	assert.False(t, m.PassesOverall())
}

func TestUndefinedInputsFailChecks(t *testing.T) {
	m := passingModel()
	m.CashFlows = nil // averages become Undefined

	assert.True(t, IsUndefined(m.AverageNetCashFlow()))
	assert.True(t, IsUndefined(m.EstimatedReturnFromCashFlow()))
	assert.True(t, IsUndefined(m.EstimatedNextYearBookValueFromCashFlow()))

	checks := m.Checks()
	assert.False(t, checks[CheckPositiveCashFlow])
	assert.False(t, checks[CheckPositiveOwnerEarnings])
	assert.False(t, checks[CheckCashFlowReturn])
	assert.False(t, checks[CheckOwnerEarningsReturn])
	assert.False(t, checks[CheckEnoughHistory])
}

func TestZeroEquityDoesNotPassDebtCheck(t *testing.T) {
	m := passingModel()
	m.ShareholdersEquity = 0

	assert.True(t, IsUndefined(m.DebtToEquity()))
	assert.False(t, m.Checks()[CheckDebtToEquity])
}

func TestReturnBandBoundaries(t *testing.T) {
	assert.False(t, inReturnBand(4.99))
	assert.True(t, inReturnBand(5))
	assert.True(t, inReturnBand(39.99))
	assert.False(t, inReturnBand(40))
	assert.False(t, inReturnBand(Undefined))
}

func TestMaxBuyPrice(t *testing.T) {
	m := passingModel()

	// Ceilings: 3*book = 1.2e9; 20*(60e6+20e6) = 1.6e9 for both averages.
	// Book-value ceiling wins: 1.2e9 / 10e6 shares.
	assert.Equal(t, 120.0, m.MaxBuyPrice())

	m.SharesOutstanding = 0
	assert.True(t, IsUndefined(m.MaxBuyPrice()))

	m = passingModel()
	m.CashFlows = nil
	assert.True(t, IsUndefined(m.MaxBuyPrice()))
}

func TestOwnerEarnings(t *testing.T) {
	y := YearCashFlow{
		NetIncome:            100,
		Depreciation:         10,
		Depletion:            5,
		Amortization:         5,
		DeferredTaxes:        2,
		OtherNonCash:         3,
		CapitalExpenditure:   20,
		WorkingCapitalChange: 5,
	}
	assert.Equal(t, 100.0, y.OwnerEarnings())

	y = YearCashFlow{GrossCashFlow: 50, DebtIssuance: 20}
	assert.Equal(t, 30.0, y.NetCashFlow())
}

package fundamentals

import "math"

// Scraped statements name the same accounting concept inconsistently across
// companies and years. Each concept therefore resolves through an ordered
// chain of sources tried in sequence; the first satisfied source wins.
//
// A source is either a direct field lookup or a derivation over several
// fields. Keeping the chains as data, not nested conditionals, keeps the
// resolution auditable.

// fieldSource is one alternative for resolving a concept from a sparse
// field map.
type fieldSource struct {
	name   string
	derive func(fields map[string]float64) (float64, bool)
}

func (s fieldSource) resolve(fields map[string]float64) (float64, bool) {
	if s.derive != nil {
		return s.derive(fields)
	}
	v, ok := fields[s.name]
	return v, ok
}

// fieldChain is the ordered list of alternatives for one concept.
type fieldChain struct {
	concept string
	sources []fieldSource
}

// Resolve tries each source in order. The boolean reports whether any
// alternative was satisfied; callers leave the concept at its zero default
// otherwise.
func (c fieldChain) Resolve(fields map[string]float64) (float64, bool) {
	for _, source := range c.sources {
		if v, ok := source.resolve(fields); ok {
			return v, true
		}
	}
	return 0, false
}

func direct(names ...string) []fieldSource {
	sources := make([]fieldSource, 0, len(names))
	for _, name := range names {
		sources = append(sources, fieldSource{name: name})
	}
	return sources
}

func sub(a, b string) func(map[string]float64) (float64, bool) {
	return func(fields map[string]float64) (float64, bool) {
		x, okA := fields[a]
		y, okB := fields[b]
		if !okA || !okB {
			return 0, false
		}
		return x - y, true
	}
}

// Balance-sheet concepts.
var (
	retainedEarningsChain = fieldChain{
		concept: "retained earnings",
		sources: direct("RetainedEarnings", "RetainedEarningsAccumulatedDeficit"),
	}

	shareholdersEquityChain = fieldChain{
		concept: "shareholders equity",
		sources: direct("TotalShareholdersEquity", "TotalStockholdersEquity", "TotalEquity"),
	}

	// Goodwill is reported directly, or bundled with other intangibles. When
	// only the bundle exists and intangibles cannot be split out, the bundle
	// is taken wholesale so book value still excludes it in full.
	goodwillChain = fieldChain{
		concept: "goodwill",
		sources: []fieldSource{
			{name: "Goodwill"},
			{derive: sub("GoodwillAndOtherIntangibleAssets", "OtherIntangibleAssets")},
			{name: "GoodwillAndOtherIntangibleAssets"},
		},
	}

	intangiblesChain = fieldChain{
		concept: "intangible assets",
		sources: direct("OtherIntangibleAssets", "IntangibleAssets"),
	}

	longTermDebtChain = fieldChain{
		concept: "long-term debt",
		sources: direct("LongTermDebt", "LongTermDebtTotal", "TotalLongTermDebt"),
	}

	currentAssetsChain = fieldChain{
		concept: "current assets",
		sources: direct("TotalCurrentAssets"),
	}

	currentLiabilitiesChain = fieldChain{
		concept: "current liabilities",
		sources: direct("TotalCurrentLiabilities"),
	}
)

// Cash-flow concepts. Dividends and capital expenditure appear with either
// sign depending on the source, so they are normalized to magnitudes.
var (
	dividendsPaidChain = fieldChain{
		concept: "dividends paid",
		sources: []fieldSource{{derive: abs("CashDividendsPaid", "DividendsPaid")}},
	}

	grossCashFlowChain = fieldChain{
		concept: "gross cash flow",
		sources: []fieldSource{
			{name: "ChangesInCash"},
			{derive: sub("EndCashPosition", "BeginningCashPosition")},
		},
	}

	debtIssuanceChain = fieldChain{
		concept: "debt issuance",
		sources: direct("IssuanceOfDebt", "NetIssuanceOfDebt"),
	}

	workingCapitalChangeChain = fieldChain{
		concept: "working-capital change",
		sources: direct("ChangeInWorkingCapital", "ChangesInWorkingCapital"),
	}

	netIncomeChain = fieldChain{
		concept: "net income",
		sources: direct("NetIncome", "NetIncomeFromContinuingOperations"),
	}

	// The combined line item already includes amortization. When the bundle
	// is the only depreciation source, any separately reported amortization
	// is subtracted back out so owner earnings does not count it twice.
	depreciationChain = fieldChain{
		concept: "depreciation",
		sources: []fieldSource{
			{name: "Depreciation"},
			{derive: func(fields map[string]float64) (float64, bool) {
				combined, ok := fields["DepreciationAndAmortization"]
				if !ok {
					return 0, false
				}
				if amortization, ok := amortizationChain.Resolve(fields); ok {
					return combined - amortization, true
				}
				return combined, true
			}},
		},
	}

	depletionChain = fieldChain{
		concept: "depletion",
		sources: direct("Depletion"),
	}

	amortizationChain = fieldChain{
		concept: "amortization",
		sources: direct("Amortization", "AmortizationOfIntangibles"),
	}

	deferredTaxesChain = fieldChain{
		concept: "deferred taxes",
		sources: direct("DeferredTaxes", "DeferredIncomeTaxes"),
	}

	otherNonCashChain = fieldChain{
		concept: "other non-cash items",
		sources: direct("OtherNonCashItems", "OtherNonCashAdjustments"),
	}

	capitalExpenditureChain = fieldChain{
		concept: "capital expenditure",
		sources: []fieldSource{{derive: abs("CapitalExpenditure", "CapitalExpenditures")}},
	}

	stockIssuanceChain = fieldChain{
		concept: "stock issuance",
		sources: direct("IssuanceOfCapitalStock", "CommonStockIssuance"),
	}

	preferredIssuanceChain = fieldChain{
		concept: "preferred stock issuance",
		sources: direct("PreferredStockIssuance", "IssuanceOfPreferredStock"),
	}
)

func abs(names ...string) func(map[string]float64) (float64, bool) {
	return func(fields map[string]float64) (float64, bool) {
		for _, name := range names {
			if v, ok := fields[name]; ok {
				return math.Abs(v), true
			}
		}
		return 0, false
	}
}

package fundamentals

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/graham/internal/domain"
)

// Engine turns one company's accumulated raw statements into a CompanyModel.
// It is a pure function of its inputs: (history, quote) -> model. Derivation
// gaps are logged and leave fields at their zero defaults, never abort a run.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("service", "fundamentals").Logger()}
}

// series is one company's reports of one kind, split by period class and
// sorted by report date ascending.
type series struct {
	annual    []domain.RawReport
	nonAnnual []domain.RawReport
}

// Aggregate rebuilds the financial model from the full raw-report history.
// Only current reports (dated, not obsoleted, not held for review) take part.
func (e *Engine) Aggregate(instrument domain.Instrument, history []domain.RawReport, quote *domain.Quote) *CompanyModel {
	log := e.log.With().Str("instrument", instrument.Key().String()).Logger()

	balance := splitSeries(history, domain.KindBalanceSheet)
	cashFlow := splitSeries(history, domain.KindCashFlow)
	income := splitSeries(history, domain.KindIncomeStatement)

	model := &CompanyModel{
		InstrumentID: instrument.ID,
		CashFlows:    make(map[int]YearCashFlow),
		GeneratedAt:  time.Now().UTC(),
	}
	if quote != nil {
		model.Price = quote.Price
		model.SharesOutstanding = quote.SharesOutstanding
	}

	e.resolveOldestSnapshot(log, model, balance, cashFlow, income)
	e.resolveCurrentSnapshot(log, model, balance, cashFlow, income)
	e.deriveAnnualCashFlows(log, model, balance, cashFlow, income)

	return model
}

func splitSeries(history []domain.RawReport, kind domain.ReportKind) series {
	var s series
	for _, report := range history {
		if report.Kind != kind || !report.IsCurrent() || report.ReportDate == nil {
			continue
		}
		if report.Period.Normalize() == domain.PeriodAnnual {
			s.annual = append(s.annual, report)
		} else {
			s.nonAnnual = append(s.nonAnnual, report)
		}
	}
	byDate := func(reports []domain.RawReport) {
		sort.Slice(reports, func(i, j int) bool {
			return reports[i].ReportDate.Before(*reports[j].ReportDate)
		})
	}
	byDate(s.annual)
	byDate(s.nonAnnual)
	return s
}

// matchInBucket returns the report whose alignment bucket equals bucket, or
// nil when the series has none.
func matchInBucket(reports []domain.RawReport, bucket domain.AlignmentBucket) *domain.RawReport {
	for i := range reports {
		if b, ok := reports[i].Bucket(); ok && b == bucket {
			return &reports[i]
		}
	}
	return nil
}

// fullyMatched reports whether a cash-flow and income statement exist in the
// same alignment bucket as the given balance sheet.
func fullyMatched(bs domain.RawReport, cashFlow, income []domain.RawReport) bool {
	bucket, ok := bs.Bucket()
	if !ok {
		return false
	}
	return matchInBucket(cashFlow, bucket) != nil && matchInBucket(income, bucket) != nil
}

// resolveOldestSnapshot finds the oldest date for which all three statement
// kinds exist simultaneously and takes its retained earnings as the growth
// baseline. Non-annual series are preferred for their finer history.
func (e *Engine) resolveOldestSnapshot(log zerolog.Logger, model *CompanyModel, balance, cashFlow, income series) {
	scan := func(bs, cf, is []domain.RawReport) bool {
		for _, sheet := range bs {
			if !fullyMatched(sheet, cf, is) {
				log.Warn().Time("date", *sheet.ReportDate).
					Msg("Balance sheet has no same-period cash-flow or income match, skipping")
				continue
			}
			if v, ok := retainedEarningsChain.Resolve(sheet.Fields); ok {
				model.OldestRetainedEarnings = v
			} else {
				log.Warn().Time("date", *sheet.ReportDate).
					Msg("Oldest balance sheet carries no retained earnings field")
			}
			return true
		}
		return false
	}

	if scan(balance.nonAnnual, cashFlow.nonAnnual, income.nonAnnual) {
		return
	}
	if !scan(balance.annual, cashFlow.annual, income.annual) {
		log.Warn().Msg("No fully matched period found for oldest snapshot")
	}
}

// resolveCurrentSnapshot takes the newest fully-matched date and resolves the
// current balance-sheet totals plus the period's dividends paid. Every field
// resolves through its fallback chain; an unsatisfied chain logs a warning
// and leaves the zero default.
func (e *Engine) resolveCurrentSnapshot(log zerolog.Logger, model *CompanyModel, balance, cashFlow, income series) {
	scan := func(bs, cf, is []domain.RawReport) bool {
		for i := len(bs) - 1; i >= 0; i-- {
			sheet := bs[i]
			if !fullyMatched(sheet, cf, is) {
				continue
			}

			resolve := func(chain fieldChain, dst *float64) {
				if v, ok := chain.Resolve(sheet.Fields); ok {
					*dst = v
					return
				}
				log.Warn().Str("concept", chain.concept).Time("date", *sheet.ReportDate).
					Msg("No fallback satisfied, leaving zero")
			}
			resolve(shareholdersEquityChain, &model.ShareholdersEquity)
			resolve(goodwillChain, &model.Goodwill)
			resolve(intangiblesChain, &model.Intangibles)
			resolve(longTermDebtChain, &model.LongTermDebt)
			resolve(retainedEarningsChain, &model.RetainedEarnings)

			bucket, _ := sheet.Bucket()
			if match := matchInBucket(cf, bucket); match != nil {
				if v, ok := dividendsPaidChain.Resolve(match.Fields); ok {
					model.DividendsPaid = v
				}
			}
			return true
		}
		return false
	}

	if scan(balance.nonAnnual, cashFlow.nonAnnual, income.nonAnnual) {
		return
	}
	if !scan(balance.annual, cashFlow.annual, income.annual) {
		log.Warn().Msg("No fully matched period found for current snapshot")
	}
}

// deriveAnnualCashFlows walks annual cash-flow reports oldest first, resolves
// each period's items with per-item fallbacks, and accumulates the dividend
// and issuance totals behind adjusted retained earnings.
func (e *Engine) deriveAnnualCashFlows(log zerolog.Logger, model *CompanyModel, balance, cashFlow, income series) {
	balanceByYear := make(map[int]domain.RawReport, len(balance.annual))
	for _, sheet := range balance.annual {
		balanceByYear[sheet.ReportDate.Year()] = sheet
	}
	incomeByYear := make(map[int]domain.RawReport, len(income.annual))
	for _, statement := range income.annual {
		incomeByYear[statement.ReportDate.Year()] = statement
	}

	var cumulativeDividends, cumulativeIssuance float64

	for _, report := range cashFlow.annual {
		year := report.ReportDate.Year()
		if _, done := model.CashFlows[year]; done {
			continue
		}

		item := YearCashFlow{Year: year}

		if v, ok := netIncomeChain.Resolve(report.Fields); ok {
			item.NetIncome = v
		} else if statement, ok := incomeByYear[year]; ok {
			if v, ok := netIncomeChain.Resolve(statement.Fields); ok {
				item.NetIncome = v
			}
		} else {
			log.Warn().Int("year", year).Msg("Net income unresolvable for period")
		}

		if v, ok := grossCashFlowChain.Resolve(report.Fields); ok {
			item.GrossCashFlow = v
		} else {
			log.Warn().Int("year", year).Msg("Gross cash flow unresolvable for period")
		}

		if v, ok := debtIssuanceChain.Resolve(report.Fields); ok {
			item.DebtIssuance = v
		} else if delta, ok := annualBalanceDelta(balanceByYear, year, longTermDebtChain); ok {
			item.DebtIssuance = delta
		}

		if v, ok := workingCapitalChangeChain.Resolve(report.Fields); ok {
			item.WorkingCapitalChange = v
		} else if delta, ok := annualWorkingCapitalDelta(balanceByYear, year); ok {
			item.WorkingCapitalChange = delta
		}

		optional := func(chain fieldChain, dst *float64) {
			if v, ok := chain.Resolve(report.Fields); ok {
				*dst = v
			}
		}
		optional(depreciationChain, &item.Depreciation)
		optional(depletionChain, &item.Depletion)
		optional(amortizationChain, &item.Amortization)
		optional(deferredTaxesChain, &item.DeferredTaxes)
		optional(otherNonCashChain, &item.OtherNonCash)
		optional(capitalExpenditureChain, &item.CapitalExpenditure)

		if v, ok := dividendsPaidChain.Resolve(report.Fields); ok {
			cumulativeDividends += v
		}
		if v, ok := stockIssuanceChain.Resolve(report.Fields); ok {
			cumulativeIssuance += v
		}
		if v, ok := preferredIssuanceChain.Resolve(report.Fields); ok {
			cumulativeIssuance += v
		}

		model.CashFlows[year] = item
	}

	model.AdjustedRetainedEarnings = model.RetainedEarnings + cumulativeDividends - cumulativeIssuance
}

// annualBalanceDelta resolves chain on the balance sheets of year and year-1
// and returns this year's value minus the prior year's.
func annualBalanceDelta(balanceByYear map[int]domain.RawReport, year int, chain fieldChain) (float64, bool) {
	current, okCurrent := balanceByYear[year]
	prior, okPrior := balanceByYear[year-1]
	if !okCurrent || !okPrior {
		return 0, false
	}
	cv, ok := chain.Resolve(current.Fields)
	if !ok {
		return 0, false
	}
	pv, ok := chain.Resolve(prior.Fields)
	if !ok {
		return 0, false
	}
	return cv - pv, true
}

// annualWorkingCapitalDelta is the change in (current assets minus current
// liabilities) between consecutive annual balance sheets.
func annualWorkingCapitalDelta(balanceByYear map[int]domain.RawReport, year int) (float64, bool) {
	wc := func(sheet domain.RawReport) (float64, bool) {
		assets, okA := currentAssetsChain.Resolve(sheet.Fields)
		liabilities, okL := currentLiabilitiesChain.Resolve(sheet.Fields)
		if !okA || !okL {
			return 0, false
		}
		return assets - liabilities, true
	}

	current, okCurrent := balanceByYear[year]
	prior, okPrior := balanceByYear[year-1]
	if !okCurrent || !okPrior {
		return 0, false
	}
	cv, ok := wc(current)
	if !ok {
		return 0, false
	}
	pv, ok := wc(prior)
	if !ok {
		return 0, false
	}
	return cv - pv, true
}

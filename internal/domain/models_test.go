package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func TestInstrumentKey_Compare(t *testing.T) {
	a := InstrumentKey{"AAK", "AAK"}
	b := InstrumentKey{"ABB", "ABB"}
	bPref := InstrumentKey{"ABB", "ABB PREF"}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, b.Compare(bPref), "same company orders by instrument symbol")
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestQuarterOf(t *testing.T) {
	assert.Equal(t, 1, QuarterOf(time.January))
	assert.Equal(t, 1, QuarterOf(time.March))
	assert.Equal(t, 2, QuarterOf(time.April))
	assert.Equal(t, 2, QuarterOf(time.June))
	assert.Equal(t, 3, QuarterOf(time.September))
	assert.Equal(t, 4, QuarterOf(time.October))
	assert.Equal(t, 4, QuarterOf(time.December))
}

func TestRawReport_Bucket_Annual(t *testing.T) {
	// Two annual reports in the same calendar year share a bucket
	// regardless of day.
	a := RawReport{Period: PeriodAnnual, ReportDate: date(2020, time.February, 1)}
	b := RawReport{Period: PeriodAnnual, ReportDate: date(2020, time.November, 30)}

	bucketA, okA := a.Bucket()
	bucketB, okB := b.Bucket()
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Equal(t, bucketA, bucketB)
	assert.Equal(t, AlignmentBucket{Year: 2020}, bucketA)
}

func TestRawReport_Bucket_Quarterly(t *testing.T) {
	sameQuarter := RawReport{Period: PeriodQuarterly, ReportDate: date(2020, time.February, 12)}
	alsoQ1 := RawReport{Period: PeriodQuarterly, ReportDate: date(2020, time.March, 31)}
	nextQuarter := RawReport{Period: PeriodQuarterly, ReportDate: date(2020, time.April, 1)}

	bucketA, _ := sameQuarter.Bucket()
	bucketB, _ := alsoQ1.Bucket()
	bucketC, _ := nextQuarter.Bucket()

	assert.Equal(t, bucketA, bucketB)
	assert.NotEqual(t, bucketA, bucketC, "adjacent quarter is a different bucket")
}

func TestRawReport_Bucket_SemiAnnualTreatedAsQuarterly(t *testing.T) {
	semi := RawReport{Period: PeriodSemiAnnual, ReportDate: date(2021, time.June, 30)}
	quarterly := RawReport{Period: PeriodQuarterly, ReportDate: date(2021, time.May, 15)}

	bucketSemi, ok := semi.Bucket()
	assert.True(t, ok)
	bucketQ, _ := quarterly.Bucket()
	assert.Equal(t, bucketQ, bucketSemi)
}

func TestRawReport_Bucket_NilDate(t *testing.T) {
	r := RawReport{Period: PeriodAnnual}
	_, ok := r.Bucket()
	assert.False(t, ok)
}

func TestRawReport_SameFields(t *testing.T) {
	a := RawReport{Fields: map[string]float64{"NetIncome": 100, "Goodwill": 5}}
	same := RawReport{Fields: map[string]float64{"Goodwill": 5, "NetIncome": 100}}
	differentValue := RawReport{Fields: map[string]float64{"NetIncome": 101, "Goodwill": 5}}
	missingField := RawReport{Fields: map[string]float64{"NetIncome": 100}}

	assert.True(t, a.SameFields(&same))
	assert.False(t, a.SameFields(&differentValue))
	assert.False(t, a.SameFields(&missingField))
	assert.False(t, missingField.SameFields(&a))
}

func TestRawReport_IsCurrent(t *testing.T) {
	now := time.Now()
	assert.True(t, (&RawReport{}).IsCurrent())
	assert.False(t, (&RawReport{ObsoletedAt: &now}).IsCurrent())
	assert.False(t, (&RawReport{CheckManually: true}).IsCurrent())
}

func TestPeriodKind_Normalize(t *testing.T) {
	assert.Equal(t, PeriodQuarterly, PeriodSemiAnnual.Normalize())
	assert.Equal(t, PeriodQuarterly, PeriodQuarterly.Normalize())
	assert.Equal(t, PeriodAnnual, PeriodAnnual.Normalize())
}

package fundamentals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepreciationChainDoesNotDoubleCountAmortization(t *testing.T) {
	// A filing carrying the combined line item plus a separate amortization
	// line: the amortization share must be subtracted back out, so the two
	// concepts sum to the bundle and owner earnings counts it once.
	fields := map[string]float64{
		"DepreciationAndAmortization": 100,
		"Amortization":                30,
	}

	depreciation, ok := depreciationChain.Resolve(fields)
	require.True(t, ok)
	assert.Equal(t, 70.0, depreciation)

	amortization, ok := amortizationChain.Resolve(fields)
	require.True(t, ok)
	assert.Equal(t, 30.0, amortization)
}

func TestDepreciationChainPrefersPlainDepreciation(t *testing.T) {
	fields := map[string]float64{
		"Depreciation":                60,
		"DepreciationAndAmortization": 100,
		"Amortization":                30,
	}

	depreciation, ok := depreciationChain.Resolve(fields)
	require.True(t, ok)
	assert.Equal(t, 60.0, depreciation)
}

func TestDepreciationChainTakesBundleWholesale(t *testing.T) {
	depreciation, ok := depreciationChain.Resolve(map[string]float64{
		"DepreciationAndAmortization": 100,
	})
	require.True(t, ok)
	assert.Equal(t, 100.0, depreciation)

	_, ok = depreciationChain.Resolve(map[string]float64{"Amortization": 30})
	assert.False(t, ok)
}

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pepwatch/ingest-cli/internal/model"
)

func TestComputeMetricPricesVial(t *testing.T) {
	mass := 10.0
	v := model.Variant{
		FormulationCode: FormulationVial,
		PackageUnit:     "vial",
		PackageQuantity: 1,
		TotalMassMg:     &mass,
	}

	m := ComputeMetricPrices(5000, v)

	require.NotNil(t, m.PricePerMg)
	assert.Equal(t, 500.0, *m.PricePerMg)
	require.NotNil(t, m.PricePerVial)
	assert.Equal(t, 5000.0, *m.PricePerVial)
	assert.Nil(t, m.PricePerMl)
	assert.Nil(t, m.PricePerUnit)
}

func TestComputeMetricPricesNilNotZero(t *testing.T) {
	m := ComputeMetricPrices(5000, model.Variant{FormulationCode: FormulationVial})
	assert.Nil(t, m.PricePerMg)
	assert.Nil(t, m.PricePerMl)
	assert.Nil(t, m.PricePerVial)
	assert.Nil(t, m.PricePerUnit)
}

func TestComputeMetricPricesZeroPrice(t *testing.T) {
	mass := 10.0
	m := ComputeMetricPrices(0, model.Variant{TotalMassMg: &mass, PackageUnit: "vial", PackageQuantity: 1})
	assert.Nil(t, m.PricePerMg)
	assert.Nil(t, m.PricePerVial)
}

func TestComputeMetricPricesRounding(t *testing.T) {
	// 3999 cents over 30mg: 133.3 per mg, kept at 4 decimal places.
	mass := 30.0
	v := model.Variant{TotalMassMg: &mass, PackageUnit: "vial", PackageQuantity: 3}
	m := ComputeMetricPrices(3999, v)

	require.NotNil(t, m.PricePerMg)
	assert.Equal(t, 133.3, *m.PricePerMg)
	require.NotNil(t, m.PricePerVial)
	assert.Equal(t, 1333.0, *m.PricePerVial)
}

func TestComputeMetricPricesSubCentPerMg(t *testing.T) {
	// High-mass offers produce sub-cent per-mg prices; 4dp keeps resolution.
	mass := 100000.0
	v := model.Variant{TotalMassMg: &mass}
	m := ComputeMetricPrices(1999, v)
	require.NotNil(t, m.PricePerMg)
	assert.Equal(t, 0.02, *m.PricePerMg)
}

func TestComputeMetricPricesPerUnit(t *testing.T) {
	count := 60.0
	v := model.Variant{FormulationCode: FormulationCapsule, TotalCountUnits: &count, PackageQuantity: 60, PackageUnit: "capsule"}
	m := ComputeMetricPrices(4500, v)

	require.NotNil(t, m.PricePerUnit)
	assert.Equal(t, 75.0, *m.PricePerUnit)
	// Not a vial package, so no per-vial price.
	assert.Nil(t, m.PricePerVial)
}

func TestComputeMetricPricesNeverNegative(t *testing.T) {
	mass := 10.0
	count := 5.0
	vol := 2.0
	v := model.Variant{TotalMassMg: &mass, TotalVolumeMl: &vol, TotalCountUnits: &count, PackageUnit: "vial", PackageQuantity: 2}
	m := ComputeMetricPrices(1, v)
	for _, p := range []*float64{m.PricePerMg, m.PricePerMl, m.PricePerVial, m.PricePerUnit} {
		if p != nil {
			assert.GreaterOrEqual(t, *p, 0.0)
		}
	}
}

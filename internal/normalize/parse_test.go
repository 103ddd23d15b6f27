package normalize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVialWithStrength(t *testing.T) {
	cases := []struct {
		name     string
		unit     string
		strength float64
	}{
		{"BPC-157 5mg vial", "mg", 5},
		{"Semaglutide 3 mg Vial", "mg", 3},
		{"Epitalon 100mcg vial", "mcg", 100},
		{"TB-500 1g vial (research)", "g", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ParseProductName(tc.name)
			assert.Equal(t, FormulationVial, p.FormulationCode)
			assert.Equal(t, tc.unit, p.StrengthUnit)
			assert.Equal(t, tc.strength, p.StrengthValue)
		})
	}
}

func TestParseMassWithoutPackageDefaultsToVial(t *testing.T) {
	p := ParseProductName("Ipamorelin 10mg")
	assert.Equal(t, FormulationVial, p.FormulationCode)
	assert.Equal(t, "vial", p.PackageUnit)
	assert.Equal(t, 1, p.PackageQuantity)
}

func TestParseFormulationOrderFirstMatchWins(t *testing.T) {
	// "vial" precedes "spray" in the fixed keyword order.
	p := ParseProductName("GHK-Cu vial + spray applicator 10mg")
	assert.Equal(t, FormulationVial, p.FormulationCode)

	p = ParseProductName("Melanotan II nasal spray 10ml")
	assert.Equal(t, FormulationSpray, p.FormulationCode)

	p = ParseProductName("GHK-Cu face cream 2% gel base")
	assert.Equal(t, FormulationCream, p.FormulationCode)
}

func TestParsePackageQuantities(t *testing.T) {
	p := ParseProductName("BPC-157 10mg x 5 vials")
	assert.Equal(t, 5, p.PackageQuantity)
	assert.Equal(t, "vial", p.PackageUnit)

	p = ParseProductName("5 x 10mg Tesamorelin")
	assert.Equal(t, 5, p.PackageQuantity)

	p = ParseProductName("MK-677 60 capsules 25mg")
	assert.Equal(t, 60, p.PackageQuantity)
	assert.Equal(t, "capsule", p.PackageUnit)
	assert.Equal(t, FormulationCapsule, p.FormulationCode)

	p = ParseProductName("CJC-1295 kit of 10")
	assert.Equal(t, 10, p.PackageQuantity)
}

func TestParseCompoundName(t *testing.T) {
	p := ParseProductName("BPC-157 10mg x 5 vials")
	assert.Equal(t, "BPC-157", p.CompoundName)

	p = ParseProductName("Semaglutide 3mg vial")
	assert.Equal(t, "Semaglutide", p.CompoundName)
}

func TestParseStrengthUnitProperty(t *testing.T) {
	// Any "<n><massunit> ... vial" name must parse as a vial with that unit.
	for _, unit := range []string{"mg", "mcg", "g"} {
		name := fmt.Sprintf("Compound-X 25%s research vial", unit)
		p := ParseProductName(name)
		assert.Equal(t, FormulationVial, p.FormulationCode, name)
		assert.Equal(t, unit, p.StrengthUnit, name)
		assert.Equal(t, 25.0, p.StrengthValue, name)
	}
}

func TestVariantTotalsVial(t *testing.T) {
	p := ParseProductName("BPC-157 10mg x 5 vials")
	v := p.Variant(7)

	require.NotNil(t, v.TotalMassMg)
	assert.Equal(t, 50.0, *v.TotalMassMg)
	assert.Nil(t, v.TotalVolumeMl)
	assert.Nil(t, v.TotalCountUnits)
	assert.Equal(t, int64(7), v.CompoundID)
}

func TestVariantTotalsMcgConversion(t *testing.T) {
	p := ParseProductName("Epitalon 500mcg vial")
	v := p.Variant(1)
	require.NotNil(t, v.TotalMassMg)
	assert.Equal(t, 0.5, *v.TotalMassMg)
}

func TestVariantTotalsCapsules(t *testing.T) {
	p := ParseProductName("MK-677 25mg 60 capsules")
	v := p.Variant(2)

	require.NotNil(t, v.TotalCountUnits)
	assert.Equal(t, 60.0, *v.TotalCountUnits)
	// Count is the primary basis for discrete formulations.
	assert.Nil(t, v.TotalMassMg)
}

func TestVariantTotalsSprayVolume(t *testing.T) {
	p := ParseProductName("Melanotan nasal spray 10ml")
	v := p.Variant(3)
	require.NotNil(t, v.TotalVolumeMl)
	assert.Equal(t, 10.0, *v.TotalVolumeMl)
	assert.Nil(t, v.TotalMassMg)
}

func TestVariantAtMostOnePrimaryTotal(t *testing.T) {
	names := []string{
		"BPC-157 10mg x 5 vials",
		"MK-677 25mg 60 capsules",
		"Melanotan nasal spray 10ml",
		"GHK-Cu cream 50mg",
		"TB-500 troche 30 troches",
	}
	for _, name := range names {
		v := ParseProductName(name).Variant(1)
		set := 0
		if v.TotalMassMg != nil {
			set++
		}
		if v.TotalVolumeMl != nil {
			set++
		}
		if v.TotalCountUnits != nil {
			set++
		}
		assert.LessOrEqual(t, set, 1, name)
	}
}

func TestSizeLabel(t *testing.T) {
	assert.Equal(t, "10mg x 5 vials", ParseProductName("BPC-157 10mg x 5 vials").SizeLabel)
	assert.Equal(t, "5mg vial", ParseProductName("BPC-157 5mg vial").SizeLabel)
}

// Package normalize turns free-text vendor product names into canonical
// variants and comparable unit-price metrics.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pepwatch/ingest-cli/internal/model"
)

// Formulation codes.
const (
	FormulationVial     = "vial"
	FormulationCream    = "cream"
	FormulationTroche   = "troche"
	FormulationSpray    = "spray"
	FormulationCapsule  = "capsule"
	FormulationTablet   = "tablet"
	FormulationSolution = "solution"
	FormulationGel      = "gel"
)

// formulationKeywords is checked in fixed order; the first formulation whose
// keyword appears anywhere in the name wins, regardless of token position.
var formulationKeywords = []struct {
	code     string
	keywords []string
}{
	{FormulationVial, []string{"vial", "lyophilized", "lyophilised"}},
	{FormulationCream, []string{"cream"}},
	{FormulationTroche, []string{"troche", "lozenge"}},
	{FormulationSpray, []string{"spray"}},
	{FormulationCapsule, []string{"capsule", "caps ", " caps", "softgel"}},
	{FormulationTablet, []string{"tablet", " tabs", "tabs "}},
	{FormulationSolution, []string{"solution", "injectable", "dropper"}},
	{FormulationGel, []string{"gel"}},
}

var (
	strengthRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(mg|mcg|µg|ug|g|iu|ml)\b`)

	// "5 x 10mg", "10mg x 5", "pack of 3", "3-pack", "kit of 10 vials".
	packCountRe = regexp.MustCompile(`(?i)(?:^|[\s(])(\d+)\s*(?:x|×)\s`)
	countAfter  = regexp.MustCompile(`(?i)(?:x|×)\s*(\d+)\b`)
	packOfRe    = regexp.MustCompile(`(?i)(?:pack|kit|box)\s+of\s+(\d+)`)
	nPackRe     = regexp.MustCompile(`(?i)\b(\d+)[\s-]*(?:pack|pk)\b`)

	// "60 capsules", "30 tablets", "10 vials", "3 troches".
	unitCountRe = regexp.MustCompile(`(?i)\b(\d+)\s*(vials?|caps(?:ules)?|tabl?ets?|troches?|sprays?|units?)\b`)

	cleanupRe = regexp.MustCompile(`(?i)[\s(\[-]*(\d+(?:[.,]\d+)?\s*(?:mg|mcg|µg|ug|g|iu|ml))[\s)\]-]*`)
)

// ParsedName is the structured reading of one product name.
type ParsedName struct {
	FormulationCode string
	StrengthValue   float64
	StrengthUnit    string
	PackageQuantity int
	PackageUnit     string
	CompoundName    string
	SizeLabel       string
}

// ParseProductName extracts formulation, strength, and package tokens from a
// free-text product name. A mass strength with no package or formulation
// token defaults to a single vial, the dominant peptide formulation.
func ParseProductName(name string) ParsedName {
	p := ParsedName{PackageQuantity: 1}
	lower := strings.ToLower(name)

	// Strength: first value+unit token.
	if m := strengthRe.FindStringSubmatch(name); m != nil {
		val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err == nil {
			p.StrengthValue = val
			p.StrengthUnit = normalizeUnit(m[2])
		}
	}

	// Package quantity and unit.
	if m := unitCountRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			p.PackageQuantity = n
			p.PackageUnit = normalizePackageUnit(m[2])
		}
	} else if m := packCountRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
			p.PackageQuantity = n
		}
	} else if m := countAfter.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 1 {
			p.PackageQuantity = n
		}
	} else if m := packOfRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			p.PackageQuantity = n
		}
	} else if m := nPackRe.FindStringSubmatch(name); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			p.PackageQuantity = n
		}
	}

	// Formulation: ordered keyword list, first match wins.
	for _, f := range formulationKeywords {
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				p.FormulationCode = f.code
				break
			}
		}
		if p.FormulationCode != "" {
			break
		}
	}

	// A discrete package unit implies the formulation when keywords are absent.
	if p.FormulationCode == "" && p.PackageUnit != "" {
		switch p.PackageUnit {
		case "vial":
			p.FormulationCode = FormulationVial
		case "capsule":
			p.FormulationCode = FormulationCapsule
		case "tablet":
			p.FormulationCode = FormulationTablet
		case "troche":
			p.FormulationCode = FormulationTroche
		case "spray":
			p.FormulationCode = FormulationSpray
		}
	}

	// Mass strength with nothing else stated defaults to vial.
	if p.FormulationCode == "" && isMassUnit(p.StrengthUnit) {
		p.FormulationCode = FormulationVial
	}

	if p.FormulationCode == FormulationVial && p.PackageUnit == "" {
		p.PackageUnit = "vial"
	}

	p.CompoundName = extractCompoundName(name)
	p.SizeLabel = buildSizeLabel(p)
	return p
}

// Variant derives the canonical variant for a compound from a parsed name.
// At most one of the three totals is set; which one depends on the
// formulation's primary metric basis.
func (p ParsedName) Variant(compoundID int64) model.Variant {
	v := model.Variant{
		CompoundID:       compoundID,
		FormulationCode:  p.FormulationCode,
		DisplaySizeLabel: p.SizeLabel,
		StrengthValue:    p.StrengthValue,
		StrengthUnit:     p.StrengthUnit,
		PackageQuantity:  p.PackageQuantity,
		PackageUnit:      p.PackageUnit,
	}

	qty := float64(p.PackageQuantity)
	if qty <= 0 {
		qty = 1
	}

	switch p.FormulationCode {
	case FormulationCapsule, FormulationTablet, FormulationTroche:
		if p.PackageQuantity > 0 {
			total := float64(p.PackageQuantity)
			v.TotalCountUnits = &total
		}
	case FormulationSolution, FormulationSpray:
		if p.StrengthUnit == "ml" && p.StrengthValue > 0 {
			total := p.StrengthValue * qty
			v.TotalVolumeMl = &total
		} else if mg, ok := strengthMg(p); ok {
			total := mg * qty
			v.TotalMassMg = &total
		}
	default: // vial, cream, gel, unknown
		if p.StrengthUnit == "ml" && p.StrengthValue > 0 {
			total := p.StrengthValue * qty
			v.TotalVolumeMl = &total
		} else if mg, ok := strengthMg(p); ok {
			total := mg * qty
			v.TotalMassMg = &total
		}
	}

	return v
}

func strengthMg(p ParsedName) (float64, bool) {
	if p.StrengthValue <= 0 {
		return 0, false
	}
	switch p.StrengthUnit {
	case "mg":
		return p.StrengthValue, true
	case "mcg":
		return p.StrengthValue / 1000, true
	case "g":
		return p.StrengthValue * 1000, true
	default:
		return 0, false
	}
}

func isMassUnit(unit string) bool {
	return unit == "mg" || unit == "mcg" || unit == "g"
}

func normalizeUnit(u string) string {
	switch strings.ToLower(u) {
	case "µg", "ug":
		return "mcg"
	default:
		return strings.ToLower(u)
	}
}

func normalizePackageUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	switch {
	case strings.HasPrefix(u, "vial"):
		return "vial"
	case strings.HasPrefix(u, "cap"):
		return "capsule"
	case strings.HasPrefix(u, "tab"):
		return "tablet"
	case strings.HasPrefix(u, "troche"):
		return "troche"
	case strings.HasPrefix(u, "spray"):
		return "spray"
	default:
		return "unit"
	}
}

var (
	packTokenRe = regexp.MustCompile(`(?i)\b(?:\d+\s*(?:x|×)|(?:x|×)\s*\d+|pack of \d+|kit of \d+|box of \d+|\d+[\s-]*(?:pack|pk))\b`)
	formTokenRe = regexp.MustCompile(`(?i)\b(?:\d+\s*)?(?:vials?|lyophili[sz]ed|creams?|troches?|lozenges?|sprays?|caps(?:ules)?|softgels?|tabl?ets?|solutions?|injectable|droppers?|gels?|units?)\b`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// extractCompoundName strips strength, package, and formulation tokens,
// leaving the raw compound text for alias resolution.
func extractCompoundName(name string) string {
	s := cleanupRe.ReplaceAllString(name, " ")
	s = packTokenRe.ReplaceAllString(s, " ")
	s = formTokenRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, " -–|(),[]")
	return multiSpace.ReplaceAllString(strings.TrimSpace(s), " ")
}

func buildSizeLabel(p ParsedName) string {
	var label string
	if p.StrengthValue > 0 {
		label = trimFloat(p.StrengthValue) + p.StrengthUnit
	}
	if p.PackageQuantity > 1 {
		unit := p.PackageUnit
		if unit == "" {
			unit = "unit"
		}
		if label != "" {
			label = fmt.Sprintf("%s x %d %ss", label, p.PackageQuantity, unit)
		} else {
			label = fmt.Sprintf("%d %ss", p.PackageQuantity, unit)
		}
	} else if label != "" && p.PackageUnit != "" {
		label += " " + p.PackageUnit
	}
	return label
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

package matching

import "strings"

// Cantons are the 26 Swiss canton codes.
var Cantons = []string{
	"AG", "AI", "AR", "BE", "BL", "BS", "FR", "GE", "GL", "GR", "JU", "LU", "NE",
	"NW", "OW", "SG", "SH", "SO", "SZ", "TG", "TI", "UR", "VD", "VS", "ZG", "ZH",
}

var cantonSet = func() map[string]bool {
	m := make(map[string]bool, len(Cantons))
	for _, c := range Cantons {
		m[c] = true
	}
	return m
}()

// IsCanton reports whether code is a canton code.
func IsCanton(code string) bool {
	return cantonSet[strings.ToUpper(strings.TrimSpace(code))]
}

// IsNationwide reports whether the service areas name every canton.
func IsNationwide(areas []string) bool {
	seen := map[string]bool{}
	for _, a := range areas {
		a = strings.ToUpper(strings.TrimSpace(a))
		if cantonSet[a] {
			seen[a] = true
		}
	}
	return len(seen) >= len(Cantons)
}

// AreaMatches reports whether a provider with the given service areas
// covers a lead located in canton/postalCode.
func AreaMatches(areas []string, canton, postalCode string) bool {
	canton = strings.ToUpper(strings.TrimSpace(canton))
	postalCode = strings.TrimSpace(postalCode)
	for _, a := range areas {
		a = strings.TrimSpace(a)
		if canton != "" && strings.ToUpper(a) == canton {
			return true
		}
		if postalCode != "" && a == postalCode {
			return true
		}
	}
	return IsNationwide(areas)
}

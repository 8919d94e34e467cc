package address

import (
	"regexp"
	"strings"
)

var (
	postcodeRe = regexp.MustCompile(`\b(\d{4})\b\s*$`)
	barangayRe = regexp.MustCompile(`(?i)^(brgy\.?|barangay|bgy\.?)\s+`)
	cityRe     = regexp.MustCompile(`(?i)\bcity\b|^city of\b`)
	streetRe   = regexp.MustCompile(`(?i)\d|\b(st|street|ave|avenue|road|rd|blvd|unit|blk|block|lot|phase|bldg)\b\.?`)
)

var metroManilaCities = map[string]string{
	"manila":      "Manila",
	"quezon city": "Quezon City",
	"makati":      "Makati",
	"taguig":      "Taguig",
	"pasig":       "Pasig",
	"pasay":       "Pasay",
	"mandaluyong": "Mandaluyong",
	"san juan":    "San Juan",
	"marikina":    "Marikina",
	"paranaque":   "Parañaque",
	"parañaque":   "Parañaque",
	"las pinas":   "Las Piñas",
	"las piñas":   "Las Piñas",
	"muntinlupa":  "Muntinlupa",
	"caloocan":    "Caloocan",
	"malabon":     "Malabon",
	"navotas":     "Navotas",
	"valenzuela":  "Valenzuela",
	"pateros":     "Pateros",
}

var metroManilaAliases = map[string]bool{
	"metro manila":            true,
	"ncr":                     true,
	"national capital region": true,
}

// ParseLegacy splits a comma separated address into structured fields.
// It only fills a field when the token is unambiguous; a missing city or
// street lowers the confidence instead of being guessed.
func ParseLegacy(raw string) Parsed {
	out := Parsed{Confidence: ConfidenceNone}

	var kept []string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		switch strings.ToLower(token) {
		case "":
		case "philippines", "ph":
			out.Country = "PH"
		default:
			kept = append(kept, token)
		}
	}
	text := strings.Join(kept, ", ")
	if text == "" {
		return out
	}

	if m := postcodeRe.FindStringSubmatch(text); m != nil {
		out.Postcode = m[1]
		text = strings.TrimSpace(strings.TrimSuffix(text, m[0]))
		text = strings.TrimRight(text, ", ")
	}

	var streetParts []string
	for _, token := range strings.Split(text, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		lower := strings.ToLower(token)
		key := strings.TrimSpace(strings.TrimPrefix(strings.TrimSuffix(lower, " city"), "city of "))

		switch {
		case metroManilaAliases[lower]:
			out.Province = "Metro Manila"
		case barangayRe.MatchString(token):
			out.Barangay = strings.TrimSpace(barangayRe.ReplaceAllString(token, ""))
		case out.City == "" && metroManilaCities[lower] != "":
			out.City = metroManilaCities[lower]
		case out.City == "" && metroManilaCities[key] != "":
			out.City = metroManilaCities[key]
		case out.City == "" && cityRe.MatchString(token):
			out.City = token
		case len(streetParts) == 0 || streetRe.MatchString(token):
			streetParts = append(streetParts, token)
		case out.City != "" && out.Province == "":
			// first free token after the city reads as the province
			out.Province = token
		default:
			streetParts = append(streetParts, token)
		}
	}
	out.Street = strings.Join(streetParts, ", ")

	if out.Province == "" && IsMetroManilaCity(out.City) {
		out.Province = "Metro Manila"
	}

	switch {
	case out.Street != "" && out.City != "" && out.Postcode != "":
		out.Confidence = ConfidenceHigh
	case out.Street != "" || out.City != "":
		out.Confidence = ConfidenceLow
	}
	return out
}

func IsMetroManilaCity(city string) bool {
	if city == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(city))
	lower = strings.TrimSpace(strings.TrimSuffix(lower, " city"))
	_, ok := metroManilaCities[lower]
	if !ok {
		_, ok = metroManilaCities[lower+" city"]
	}
	return ok
}

// IsMetroManila decides the shipping zone of a detail. A region or province,
// when present, decides on its own: several provincial towns share a name
// with a Metro Manila city.
func IsMetroManila(d *Detail) bool {
	for _, v := range []string{d.Region, d.Province} {
		if v = strings.TrimSpace(v); v != "" {
			return isMetroArea(v)
		}
	}
	return IsMetroManilaCity(d.City)
}

// isMetroArea accepts the region's own names ("NCR, Fourth District" too)
// and a Metro Manila city written where the province goes.
func isMetroArea(name string) bool {
	lower := strings.ToLower(name)
	if metroManilaAliases[lower] || strings.HasPrefix(lower, "ncr") || strings.HasPrefix(lower, "metro manila") {
		return true
	}
	return IsMetroManilaCity(name)
}

// Resolve returns a copy of d with structured fields filled from the legacy
// text when they are missing, along with how much the result can be trusted.
func Resolve(d *Detail) (Detail, Confidence) {
	out := *d
	if d.HasStructuredFields() {
		return out, ConfidenceHigh
	}
	if d.LegacyAddress == nil {
		return out, ConfidenceNone
	}

	p := ParseLegacy(*d.LegacyAddress)
	if out.Address1 == "" {
		out.Address1 = p.Street
	}
	if out.Barangay == "" {
		out.Barangay = p.Barangay
	}
	if out.City == "" {
		out.City = p.City
	}
	if out.Province == "" {
		out.Province = p.Province
	}
	if out.Postcode == "" {
		out.Postcode = p.Postcode
	}
	if out.Country == "" {
		out.Country = p.Country
	}
	return out, p.Confidence
}

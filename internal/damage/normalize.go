package damage

import "strings"

var brands = map[string]string{
	"toyota":    "Toyota",
	"honda":     "Honda",
	"bmw":       "BMW",
	"ford":      "Ford",
	"chevrolet": "Chevrolet",
	"chevy":     "Chevrolet",
}

var carTypes = map[string]string{
	"sedan":       "sedan",
	"suv":         "suv",
	"truck":       "truck",
	"luxury":      "luxury",
	"hatchback":   "sedan",
	"coupe":       "sedan",
	"convertible": "luxury",
	"minivan":     "suv",
	"van":         "suv",
	"crossover":   "suv",
	"pickup":      "truck",
}

// NormalizeBrand maps a free-form make onto a brand the assessment model
// knows. Unknown brands fall back to Toyota.
func NormalizeBrand(brand string) string {
	if v, ok := brands[strings.ToLower(strings.TrimSpace(brand))]; ok {
		return v
	}
	return "Toyota"
}

// NormalizeType maps a body style onto one of sedan, suv, truck or luxury.
func NormalizeType(carType string) string {
	if v, ok := carTypes[strings.ToLower(strings.TrimSpace(carType))]; ok {
		return v
	}
	return "sedan"
}

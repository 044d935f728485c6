package damage

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Percent decodes a percentage sent either as a number or as a string such
// as "42%".
type Percent float64

// UnmarshalJSON implements json.Unmarshaler.
func (p *Percent) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Percent(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*p = Percent(n)
	return nil
}

// DamagedPart is one part flagged on a side of the vehicle.
type DamagedPart struct {
	CarPart          string  `json:"car_part"`
	DamagePercentage Percent `json:"damage_percentage"`
	Description      string  `json:"description,omitempty"`
	DamageInspection string  `json:"damage_inspection,omitempty"`
	DamageLevel      string  `json:"damage_level,omitempty"`
}

// UnmarshalJSON accepts percentage_damage as an alias of damage_percentage.
func (d *DamagedPart) UnmarshalJSON(data []byte) error {
	type plain DamagedPart
	var raw struct {
		plain
		PercentageDamage *Percent `json:"percentage_damage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = DamagedPart(raw.plain)
	if d.DamagePercentage == 0 && raw.PercentageDamage != nil {
		d.DamagePercentage = *raw.PercentageDamage
	}
	return nil
}

// SideReport summarises one angle.
type SideReport struct {
	DamagedParts            []DamagedPart `json:"damaged_parts"`
	OverallDamagePercentage Percent       `json:"overall_damage_percentage"`
}

// Visible returns the parts with a non-zero damage percentage.
func (s SideReport) Visible() []DamagedPart {
	out := make([]DamagedPart, 0, len(s.DamagedParts))
	for _, part := range s.DamagedParts {
		if part.DamagePercentage > 0 {
			out = append(out, part)
		}
	}
	return out
}

// OverallAssessment is the vehicle-wide verdict.
type OverallAssessment struct {
	OverallPercentage  string `json:"overall_percentage"`
	OverallDamageLevel string `json:"overall_damage_level"`
	AggregationMethod  string `json:"aggregation_method,omitempty"`
	Explanation        string `json:"explanation,omitempty"`
}

// ExternalDamage is one of the most damaged parts.
type ExternalDamage struct {
	CarPart          string `json:"car_part"`
	DamagePercentage string `json:"damage_percentage"`
}

// Recommendation suggests an internal part to inspect.
type Recommendation struct {
	RecommendedPart string `json:"recommended_part"`
	Reasoning       string `json:"reasoning"`
}

// InternalRecommendations groups inspection hints by system.
type InternalRecommendations struct {
	EngineBay         []Recommendation `json:"engine_bay_components"`
	ChassisSuspension []Recommendation `json:"chassis_and_suspension"`
	Electrical        []Recommendation `json:"electrical_systems"`
	Disclaimer        string           `json:"disclaimer,omitempty"`
}

// AggregatedReport combines the four sides.
type AggregatedReport struct {
	Overall              OverallAssessment       `json:"overall_vehicle_damage_assessment"`
	TopExternalDamages   []ExternalDamage        `json:"top_external_damages"`
	InternalDamageChecks InternalRecommendations `json:"internal_damage_recommendations"`
}

// CostLine is one priced repair.
type CostLine struct {
	Part             string  `json:"part"`
	DamagePercentage string  `json:"damage_percentage"`
	DamageType       string  `json:"damage_type"`
	BaseCost         float64 `json:"base_cost"`
	CalculatedCost   float64 `json:"calculated_cost"`
	VehicleSide      string  `json:"vehicle_side"`
}

// CostDetails prices the assessment.
type CostDetails struct {
	TotalEstimatedCost float64    `json:"total_estimated_cost"`
	CarBrand           string     `json:"car_brand"`
	CarType            string     `json:"car_type"`
	Breakdown          []CostLine `json:"detailed_breakdown"`
	MissingParts       []string   `json:"missing_parts"`
	FormattedBreakdown string     `json:"formatted_breakdown,omitempty"`
}

// CostAssessment wraps the cost details and any warnings.
type CostAssessment struct {
	Details  CostDetails `json:"cost_details"`
	Warnings []string    `json:"warnings"`
}

// CarInfo echoes the normalized vehicle sent to the model.
type CarInfo struct {
	Brand string `json:"brand"`
	Type  string `json:"type"`
}

// Report is the assessment returned by the damage service.
type Report struct {
	Sides      map[string]SideReport `json:"side_damage_reports"`
	Aggregated AggregatedReport      `json:"aggregated_damage_report"`
	Cost       CostAssessment        `json:"damage_assessment_cost"`
	CarInfo    CarInfo               `json:"car_info"`
	Message    string                `json:"message"`
}

// Side returns the report for one angle, or an empty report.
func (r Report) Side(angle Angle) SideReport {
	return r.Sides[string(angle)]
}

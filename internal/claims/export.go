package claims

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/claimdesk/claimdesk/internal/backend"
)

var exportHeader = []string{
	"id", "claim_number", "car_brand", "car_type", "status",
	"estimated_cost", "description", "admin_notes", "photos", "created_at",
}

// WriteCSV encodes claims as CSV with a header line.
func WriteCSV(claims []backend.Claim) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, c := range claims {
		cost := ""
		if c.EstimatedCost != nil {
			cost = strconv.FormatFloat(*c.EstimatedCost, 'f', 2, 64)
		}
		record := []string{
			strconv.FormatInt(c.ID, 10),
			c.ClaimNumber,
			c.CarBrand,
			c.CarType,
			string(c.Status),
			cost,
			c.Description,
			c.AdminNotes,
			strconv.Itoa(len(c.Images)),
			c.CreatedAt,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

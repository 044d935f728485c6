package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	StatusPending     ClaimStatus = "pending"
	StatusUnderReview ClaimStatus = "under_review"
	StatusApproved    ClaimStatus = "approved"
	StatusRejected    ClaimStatus = "rejected"
	StatusCompleted   ClaimStatus = "completed"
)

// ClaimStatuses lists every status in workflow order.
func ClaimStatuses() []ClaimStatus {
	return []ClaimStatus{StatusPending, StatusUnderReview, StatusApproved, StatusRejected, StatusCompleted}
}

// Label renders the status for people.
func (s ClaimStatus) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// ClaimImage describes one uploaded photo.
type ClaimImage struct {
	ID               int64  `json:"id"`
	ClaimID          int64  `json:"claim_id"`
	ImageType        string `json:"image_type"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename"`
	FilePath         string `json:"file_path"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
	CreatedAt        string `json:"created_at"`
}

// Claim is an insurance claim as exposed by the admin API.
type Claim struct {
	ID               int64        `json:"id"`
	UserID           int64        `json:"user_id"`
	ClaimNumber      string       `json:"claim_number,omitempty"`
	CarBrand         string       `json:"car_brand"`
	CarType          string       `json:"car_type"`
	Status           ClaimStatus  `json:"status"`
	Description      string       `json:"description,omitempty"`
	AdminNotes       string       `json:"admin_notes,omitempty"`
	EstimatedCost    *float64     `json:"estimated_cost,omitempty"`
	PolicyHolderName string       `json:"policy_holder_name,omitempty"`
	PolicyNumber     string       `json:"policy_number,omitempty"`
	VehiclePlate     string       `json:"vehicle_plate,omitempty"`
	VehicleYear      int          `json:"vehicle_year,omitempty"`
	IncidentDate     string       `json:"incident_date,omitempty"`
	CreatedAt        string       `json:"created_at"`
	UpdatedAt        string       `json:"updated_at"`
	Images           []ClaimImage `json:"images"`
}

// ImageByType returns the first image of the given angle.
func (c Claim) ImageByType(kind string) (ClaimImage, bool) {
	for _, img := range c.Images {
		if strings.EqualFold(img.ImageType, kind) {
			return img, true
		}
	}
	return ClaimImage{}, false
}

// ClaimStats summarises claims by status.
type ClaimStats struct {
	Total       int `json:"total_claims"`
	Pending     int `json:"pending_claims"`
	UnderReview int `json:"under_review_claims"`
	Approved    int `json:"approved_claims"`
	Rejected    int `json:"rejected_claims"`
	Completed   int `json:"completed_claims"`
}

// ListClaimsParams filters the claims listing.
type ListClaimsParams struct {
	Skip   int
	Limit  int
	Status ClaimStatus
	UserID int64
}

func (p ListClaimsParams) query() url.Values {
	q := url.Values{}
	if p.Skip > 0 {
		q.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Status != "" {
		q.Set("status", string(p.Status))
	}
	if p.UserID > 0 {
		q.Set("user_id", strconv.FormatInt(p.UserID, 10))
	}
	return q
}

// ClaimUpdate carries the editable claim fields. Nil fields are left as is.
type ClaimUpdate struct {
	Status        *ClaimStatus `json:"status,omitempty"`
	AdminNotes    *string      `json:"admin_notes,omitempty"`
	CarBrand      *string      `json:"car_brand,omitempty"`
	CarType       *string      `json:"car_type,omitempty"`
	Description   *string      `json:"description,omitempty"`
	EstimatedCost *float64     `json:"estimated_cost,omitempty"`
}

const claimsPath = "/api/v1/admin/claims"

// ListClaims returns claims matching params.
func (c *Client) ListClaims(ctx context.Context, params ListClaimsParams) ([]Claim, error) {
	var claims []Claim
	if err := c.getJSON(ctx, claimsPath, params.query(), &claims); err != nil {
		return nil, err
	}
	for i := range claims {
		if claims[i].Images == nil {
			claims[i].Images = []ClaimImage{}
		}
	}
	return claims, nil
}

// GetClaim returns one claim.
func (c *Client) GetClaim(ctx context.Context, id int64) (*Claim, error) {
	var claim Claim
	if err := c.getJSON(ctx, claimPath(id), nil, &claim); err != nil {
		return nil, err
	}
	if claim.Images == nil {
		claim.Images = []ClaimImage{}
	}
	return &claim, nil
}

// UpdateClaim applies update and returns the stored claim.
func (c *Client) UpdateClaim(ctx context.Context, id int64, update ClaimUpdate) (*Claim, error) {
	res, err := c.do(ctx, http.MethodPut, claimPath(id), nil, update)
	if err != nil {
		return nil, err
	}
	var claim Claim
	if err := decode(res.body, &claim); err != nil {
		return nil, err
	}
	if claim.Images == nil {
		claim.Images = []ClaimImage{}
	}
	return &claim, nil
}

// DeleteClaim removes a claim.
func (c *Client) DeleteClaim(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, claimPath(id), nil, nil)
	return err
}

// ClaimStats returns counts by status. Missing counters read as zero.
func (c *Client) ClaimStats(ctx context.Context) (ClaimStats, error) {
	var stats ClaimStats
	if err := c.getJSON(ctx, claimsPath+"/stats", nil, &stats); err != nil {
		return ClaimStats{}, err
	}
	return stats, nil
}

// Image is either raw bytes or a location to fetch them from.
type Image struct {
	ContentType string
	Data        []byte
	URL         string
}

// ClaimImage fetches a claim photo. When the backend answers with JSON
// metadata instead of bytes, the returned Image carries the file URL.
func (c *Client) ClaimImage(ctx context.Context, claimID, imageID int64) (*Image, error) {
	res, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/images/%d", claimPath(claimID), imageID), nil, nil)
	if err != nil {
		return nil, err
	}
	if strings.Contains(res.contentType, "application/json") {
		var info struct {
			FilePath string `json:"file_path"`
		}
		if err := json.Unmarshal(res.body, &info); err != nil || info.FilePath == "" {
			return nil, fmt.Errorf("%w: image metadata without file_path", ErrMalformedResponse)
		}
		return &Image{URL: c.baseURL + info.FilePath}, nil
	}
	return &Image{ContentType: res.contentType, Data: res.body}, nil
}

// FetchURL downloads an absolute URL previously returned by ClaimImage.
func (c *Client) FetchURL(ctx context.Context, rawURL string) (*Image, error) {
	if !strings.HasPrefix(rawURL, c.baseURL+"/") {
		return nil, fmt.Errorf("backend: refusing to fetch foreign url %q", rawURL)
	}
	res, err := c.do(ctx, http.MethodGet, strings.TrimPrefix(rawURL, c.baseURL), nil, nil)
	if err != nil {
		return nil, err
	}
	return &Image{ContentType: res.contentType, Data: res.body}, nil
}

func claimPath(id int64) string {
	return claimsPath + "/" + strconv.FormatInt(id, 10)
}

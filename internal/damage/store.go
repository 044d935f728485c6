package damage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoReport is returned when no assessment is stored for a claim.
var ErrNoReport = errors.New("damage: no report")

// StoredReport is a report plus the context it was produced in.
type StoredReport struct {
	ClaimID     int64     `json:"claim_id"`
	RequestedBy int64     `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
	Report      Report    `json:"report"`
}

// ResultStore keeps the latest report per claim in redis.
type ResultStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewResultStore constructs a store. A non-positive ttl keeps reports for
// a week.
func NewResultStore(client redis.UniversalClient, ttl time.Duration) *ResultStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &ResultStore{client: client, ttl: ttl}
}

// Save replaces the stored report for the claim.
func (s *ResultStore) Save(ctx context.Context, stored StoredReport) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("damage: encode report: %w", err)
	}
	return s.client.Set(ctx, key(stored.ClaimID), data, s.ttl).Err()
}

// Latest returns the stored report for the claim.
func (s *ResultStore) Latest(ctx context.Context, claimID int64) (*StoredReport, error) {
	data, err := s.client.Get(ctx, key(claimID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, err
	}
	var stored StoredReport
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("damage: decode stored report: %w", err)
	}
	return &stored, nil
}

func key(claimID int64) string {
	return "claimdesk:damage:claim:" + strconv.FormatInt(claimID, 10)
}

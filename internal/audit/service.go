package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Repository provides access to the timeline queries.
type Repository interface {
	AuditTimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRecord, error)
	AuditTimelineAll(ctx context.Context, arg AllParams) ([]TimelineRecord, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// Service coordinates audit timeline reads.
type Service struct {
	repo Repository
}

// NewService creates an audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of audit entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize
	params := WindowParams{
		FromAt:     toPgTime(filters.From),
		ToAt:       toPgTime(filters.To),
		Actor:      optionalText(filters.Actor),
		Entity:     optionalText(filters.Entity),
		Action:     optionalText(filters.Action),
		OffsetRows: int32(offset),
		LimitRows:  int32(pageSize + 1),
	}
	records, err := s.repo.AuditTimelineWindow(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(records) > pageSize
	if hasNext {
		records = records[:pageSize]
	}
	rows := make([]TimelineRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, mapRecord(rec))
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns the whole filtered timeline without paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	records, err := s.repo.AuditTimelineAll(ctx, AllParams{
		FromAt: toPgTime(filters.From),
		ToAt:   toPgTime(filters.To),
		Actor:  optionalText(filters.Actor),
		Entity: optionalText(filters.Entity),
		Action: optionalText(filters.Action),
	})
	if err != nil {
		return nil, err
	}
	rows := make([]TimelineRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, mapRecord(rec))
	}
	return rows, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

func mapRecord(rec TimelineRecord) TimelineRow {
	row := TimelineRow{
		Action:   rec.Action,
		Entity:   rec.Entity,
		EntityID: rec.EntityID,
	}
	if rec.At.Valid {
		row.At = rec.At.Time
	}
	if rec.ActorID.Valid {
		row.ActorID = rec.ActorID.Int64
	}
	if rec.ActorName.Valid {
		row.ActorName = rec.ActorName.String
	}
	if len(rec.Meta) > 0 && string(rec.Meta) != "null" {
		row.Meta = string(rec.Meta)
	}
	return row
}

package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WindowParams selects one page of the timeline.
type WindowParams struct {
	FromAt     pgtype.Timestamptz
	ToAt       pgtype.Timestamptz
	Actor      pgtype.Text
	Entity     pgtype.Text
	Action     pgtype.Text
	OffsetRows int32
	LimitRows  int32
}

// AllParams selects the whole filtered timeline.
type AllParams struct {
	FromAt pgtype.Timestamptz
	ToAt   pgtype.Timestamptz
	Actor  pgtype.Text
	Entity pgtype.Text
	Action pgtype.Text
}

// TimelineRecord is a raw audit_logs row joined with the actor.
type TimelineRecord struct {
	At        pgtype.Timestamptz
	ActorID   pgtype.Int8
	ActorName pgtype.Text
	Action    string
	Entity    string
	EntityID  string
	Meta      []byte
}

// PgRepository reads the audit timeline from PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const timelineSelect = `
SELECT a.occurred_at, a.actor_id, COALESCE(u.full_name, u.phone_number), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2 + INTERVAL '1 day')
  AND ($3::text IS NULL OR u.full_name ILIKE '%' || $3 || '%' OR u.phone_number = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC`

// AuditTimelineWindow returns one page of the timeline.
func (r *PgRepository) AuditTimelineWindow(ctx context.Context, arg WindowParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect+` OFFSET $6 LIMIT $7`,
		arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action, arg.OffsetRows, arg.LimitRows)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// AuditTimelineAll returns every matching entry.
func (r *PgRepository) AuditTimelineAll(ctx context.Context, arg AllParams) ([]TimelineRecord, error) {
	rows, err := r.pool.Query(ctx, timelineSelect, arg.FromAt, arg.ToAt, arg.Actor, arg.Entity, arg.Action)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]TimelineRecord, error) {
	defer rows.Close()
	var out []TimelineRecord
	for rows.Next() {
		var rec TimelineRecord
		if err := rows.Scan(&rec.At, &rec.ActorID, &rec.ActorName, &rec.Action, &rec.Entity, &rec.EntityID, &rec.Meta); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

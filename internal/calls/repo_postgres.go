package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ai-hotline/pkg/utils"
)

// PostgresRepo stores calls in the calls table (see schema.sql).
// List-valued fields are JSONB columns.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, tenant_id, phone_number, caller_name, direction, priority, status,
	language_code, session_id, started_at, ended_at, duration_seconds,
	audio_files, transcript, llm_interactions, errors, automations, context, metadata,
	satisfaction_score, resolution_achieved, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) Load(ctx context.Context, id string) (*Call, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: call %s", ErrNotFound, id)
	}
	return c, err
}

const insertCall = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
	$13::jsonb,$14::jsonb,$15::jsonb,$16::jsonb,$17::jsonb,$18::jsonb,$19::jsonb,
	$20,$21,$22,$23)`

const upsertCall = `
ON CONFLICT (id) DO UPDATE SET
	caller_name = EXCLUDED.caller_name,
	priority = EXCLUDED.priority,
	status = EXCLUDED.status,
	language_code = EXCLUDED.language_code,
	session_id = EXCLUDED.session_id,
	started_at = EXCLUDED.started_at,
	ended_at = EXCLUDED.ended_at,
	duration_seconds = EXCLUDED.duration_seconds,
	audio_files = EXCLUDED.audio_files,
	transcript = EXCLUDED.transcript,
	llm_interactions = EXCLUDED.llm_interactions,
	errors = EXCLUDED.errors,
	automations = EXCLUDED.automations,
	context = EXCLUDED.context,
	metadata = EXCLUDED.metadata,
	satisfaction_score = EXCLUDED.satisfaction_score,
	resolution_achieved = EXCLUDED.resolution_achieved,
	updated_at = EXCLUDED.updated_at`

func callArgs(c *Call, enc callJSON) []any {
	return []any{
		c.ID, c.TenantID, c.PhoneNumber, nullString(c.CallerName), string(c.Direction), string(c.Priority), string(c.Status),
		c.LanguageCode, nullString(c.SessionID), c.StartedAt, c.EndedAt, c.DurationSeconds,
		enc.audio, enc.transcript, enc.llm, enc.errors, enc.automations, enc.context, enc.metadata,
		c.SatisfactionScore, c.ResolutionAchieved, c.CreatedAt, c.UpdatedAt,
	}
}

// Create inserts a new call. A duplicate id is ErrCallExists.
func (r *PostgresRepo) Create(ctx context.Context, c *Call) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	enc, err := encodeCallJSON(c)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, insertCall, callArgs(c, enc)...)
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrCallExists, c.ID)
	}
	return err
}

// Save upserts the full snapshot. The current row is locked first so an
// ended call cannot be reopened by a late writer.
func (r *PostgresRepo) Save(ctx context.Context, c *Call) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidCall)
	}
	enc, err := encodeCallJSON(c)
	if err != nil {
		return err
	}

	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		var prev string
		err := tx.QueryRowContext(ctx, `SELECT status FROM calls WHERE id = $1 FOR UPDATE`, c.ID).Scan(&prev)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case Status(prev).Terminal() && !c.Status.Terminal():
			return fmt.Errorf("%w: call %s already %s", ErrStaleSnapshot, c.ID, prev)
		}

		_, err = tx.ExecContext(ctx, insertCall+upsertCall, callArgs(c, enc)...)
		return err
	})
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Call, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type callJSON struct {
	audio, transcript, llm, errors, automations, context, metadata string
}

func encodeCallJSON(c *Call) (callJSON, error) {
	var out callJSON
	fields := []struct {
		dst *string
		v   any
	}{
		{&out.audio, nonNilStrings(c.AudioFiles)},
		{&out.transcript, c.Transcript},
		{&out.llm, c.LLMInteractions},
		{&out.errors, nonNilStrings(c.Errors)},
		{&out.automations, nonNilStrings(c.Automations)},
		{&out.context, cloneMap(c.ContextData)},
		{&out.metadata, cloneMap(c.Metadata)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, fmt.Errorf("calls: encode: %w", err)
		}
		*f.dst = string(b)
	}
	if out.transcript == "null" {
		out.transcript = "[]"
	}
	if out.llm == "null" {
		out.llm = "[]"
	}
	return out, nil
}

func scanCall(s rowScanner) (*Call, error) {
	var (
		c                                                  Call
		callerName, sessionID                              sql.NullString
		direction, priority, status                        string
		startedAt, endedAt                                 sql.NullTime
		duration                                           sql.NullInt64
		satisfaction                                       sql.NullFloat64
		resolution                                         sql.NullBool
		audio, transcript, llm, errs, autos, ctxData, meta []byte
	)
	if err := s.Scan(
		&c.ID, &c.TenantID, &c.PhoneNumber, &callerName, &direction, &priority, &status,
		&c.LanguageCode, &sessionID, &startedAt, &endedAt, &duration,
		&audio, &transcript, &llm, &errs, &autos, &ctxData, &meta,
		&satisfaction, &resolution, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.CallerName = callerName.String
	c.SessionID = sessionID.String
	c.Direction = Direction(direction)
	c.Priority = Priority(priority)
	c.Status = Status(status)
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		c.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		c.EndedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		c.DurationSeconds = &d
	}
	if satisfaction.Valid {
		v := satisfaction.Float64
		c.SatisfactionScore = &v
	}
	if resolution.Valid {
		v := resolution.Bool
		c.ResolutionAchieved = &v
	}

	dec := []struct {
		raw []byte
		dst any
	}{
		{audio, &c.AudioFiles},
		{transcript, &c.Transcript},
		{llm, &c.LLMInteractions},
		{errs, &c.Errors},
		{autos, &c.Automations},
		{ctxData, &c.ContextData},
		{meta, &c.Metadata},
	}
	for _, d := range dec {
		if len(d.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("calls: decode row %s: %w", c.ID, err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package repository

import (
	"context"
	"database/sql"

	"evalcollab/config/database"
	"evalcollab/internal/activity/model"
	"evalcollab/pkg/logger"
)

const feedColumns = `id, assessment_id, user_id, activity_type, activity_data, section_id, criterion_id, created_at`

type ActivityRepository struct {
	DB *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{DB: db}
}

func (r *ActivityRepository) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS assessment_activity (
		id TEXT PRIMARY KEY,
		assessment_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		activity_data JSONB,
		section_id TEXT,
		criterion_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS assessment_activity_feed_idx ON assessment_activity (assessment_id, created_at DESC)`)
	if err != nil {
		logger.Sugar.Errorf("Failed to migrate assessment_activity: %v", err)
		return database.Classify("migrate activity", err)
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *ActivityRepository) Insert(ctx context.Context, item *model.FeedItem) error {
	var data any
	if len(item.Data) > 0 {
		data = string(item.Data)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assessment_activity (`+feedColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.AssessmentID, item.UserID, string(item.Type), data,
		nullable(item.SectionID), nullable(item.CriterionID), item.CreatedAt)
	if err != nil {
		return database.Classify("insert activity", err)
	}
	return nil
}

func (r *ActivityRepository) Recent(ctx context.Context, assessmentID string, limit int) ([]model.FeedItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+feedColumns+` FROM assessment_activity
		WHERE assessment_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, assessmentID, limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to read feed for assessment %s: %v", assessmentID, err)
		return nil, database.Classify("recent activity", err)
	}
	defer rows.Close()

	out := []model.FeedItem{}
	for rows.Next() {
		var (
			item      model.FeedItem
			kind      string
			data      []byte
			section   sql.NullString
			criterion sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.AssessmentID, &item.UserID, &kind, &data, &section, &criterion, &item.CreatedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan activity row: %v", err)
			return nil, database.Classify("scan activity", err)
		}
		item.Type = model.Type(kind)
		if len(data) > 0 {
			item.Data = append([]byte(nil), data...)
		}
		if section.Valid {
			v := section.String
			item.SectionID = &v
		}
		if criterion.Valid {
			v := criterion.String
			item.CriterionID = &v
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify("recent activity", err)
	}
	return out, nil
}

package store

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	UpsertClip(ctx context.Context, clip *ClipRecord) error
	ListClips(ctx context.Context) ([]*ClipRecord, error)
	GetClipsByBundle(ctx context.Context, bundleID string) ([]*ClipRecord, error)
	UpdateClipProbe(ctx context.Context, bundleID, slot string, duration float64, width, height int, codec string) error
	DeleteClipsNotIn(ctx context.Context, bundleIDs []string) error
	CountClips(ctx context.Context) (int, error)

	CreateExportJob(ctx context.Context, job *ExportJob) error
	GetExportJob(ctx context.Context, id string) (*ExportJob, error)
	ListExportJobs(ctx context.Context, limit int) ([]*ExportJob, error)
	UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateExportProgress(ctx context.Context, id string, progress float64) error
	SetExportOutput(ctx context.Context, id, outputPath string) error

	GetLayout(ctx context.Context, mode string) (string, error)
	SaveLayout(ctx context.Context, mode, positions string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertClip(ctx context.Context, c *ClipRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (bundle_id, slot, path, size, duration, width, height, codec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bundle_id, slot) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			updated_at = datetime('now')
	`, c.BundleID, c.Slot, c.Path, c.Size, nullFloat(c.Duration), nullInt(c.Width), nullInt(c.Height), nullString(c.Codec))
	return err
}

func (r *SQLiteRepository) ListClips(ctx context.Context) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bundle_id, slot, path, size, duration, width, height, codec
		FROM clips ORDER BY bundle_id ASC, slot ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanClips(rows)
}

func (r *SQLiteRepository) GetClipsByBundle(ctx context.Context, bundleID string) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bundle_id, slot, path, size, duration, width, height, codec
		FROM clips WHERE bundle_id = ? ORDER BY slot ASC
	`, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanClips(rows)
}

func (r *SQLiteRepository) scanClips(rows *sql.Rows) ([]*ClipRecord, error) {
	var clips []*ClipRecord
	for rows.Next() {
		var c ClipRecord
		var duration sql.NullFloat64
		var width, height sql.NullInt64
		var codec sql.NullString

		if err := rows.Scan(&c.BundleID, &c.Slot, &c.Path, &c.Size, &duration, &width, &height, &codec); err != nil {
			return nil, err
		}
		c.Duration = duration.Float64
		c.Width = int(width.Int64)
		c.Height = int(height.Int64)
		c.Codec = codec.String
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) UpdateClipProbe(ctx context.Context, bundleID, slot string, duration float64, width, height int, codec string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET duration = ?, width = ?, height = ?, codec = ?, updated_at = datetime('now')
		WHERE bundle_id = ? AND slot = ?
	`, duration, width, height, codec, bundleID, slot)
	return err
}

// DeleteClipsNotIn removes catalog rows whose bundle no longer exists on
// disk. An empty keep list clears the whole catalog.
func (r *SQLiteRepository) DeleteClipsNotIn(ctx context.Context, bundleIDs []string) error {
	if len(bundleIDs) == 0 {
		_, err := r.db.ExecContext(ctx, "DELETE FROM clips")
		return err
	}

	placeholders := "?"
	args := []any{bundleIDs[0]}
	for _, id := range bundleIDs[1:] {
		placeholders += ", ?"
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE bundle_id NOT IN ("+placeholders+")", args...)
	return err
}

func (r *SQLiteRepository) CountClips(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) CreateExportJob(ctx context.Context, j *ExportJob) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (id, bundle_id, status, progress, output_path, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.BundleID, j.Status, j.Progress, nullString(j.OutputPath), nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetExportJob(ctx context.Context, id string) (*ExportJob, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, bundle_id, status, progress, output_path, error, created_at, updated_at
		FROM export_jobs WHERE id = ?
	`, id)

	var j ExportJob
	var outputPath, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.BundleID, &j.Status, &j.Progress, &outputPath, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.OutputPath = outputPath.String
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListExportJobs(ctx context.Context, limit int) ([]*ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, bundle_id, status, progress, output_path, error, created_at, updated_at
		FROM export_jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ExportJob
	for rows.Next() {
		var j ExportJob
		var outputPath, errMsg sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&j.ID, &j.BundleID, &j.Status, &j.Progress, &outputPath, &errMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.OutputPath = outputPath.String
		j.Error = errMsg.String
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateExportStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateExportProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET progress = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, id)
	return err
}

func (r *SQLiteRepository) SetExportOutput(ctx context.Context, id, outputPath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET output_path = ?, updated_at = datetime('now') WHERE id = ?
	`, outputPath, id)
	return err
}

func (r *SQLiteRepository) GetLayout(ctx context.Context, mode string) (string, error) {
	var positions string
	err := r.db.QueryRowContext(ctx, "SELECT positions FROM layouts WHERE mode = ?", mode).Scan(&positions)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return positions, err
}

func (r *SQLiteRepository) SaveLayout(ctx context.Context, mode, positions string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO layouts (mode, positions) VALUES (?, ?)
		ON CONFLICT(mode) DO UPDATE SET positions = excluded.positions, updated_at = datetime('now')
	`, mode, positions)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f float64) sql.NullFloat64 {
	if f == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func nullInt(i int) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(i), Valid: true}
}

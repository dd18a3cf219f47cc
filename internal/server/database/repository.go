package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrFileNotFound     = errors.New("file not found")
	ErrBlogPostNotFound = errors.New("blog post not found")
	ErrProjectNotFound  = errors.New("project not found")
)

const fileMetaColumns = "id, filename, mime_type, size, sha256, uploaded_by, created_at"

// Repository provides persistence for stored files, entities, and attachments.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// InsertFile inserts a blob row unless a row with the same digest already
// exists. The uniqueness constraint on sha256 makes this safe under
// concurrent identical uploads; the returned bool reports whether this call
// actually created the row.
func (r *Repository) InsertFile(ctx context.Context, f *StoredFile) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO files (id, filename, mime_type, size, bytes, sha256, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sha256) DO NOTHING
	`,
		f.ID,
		f.Filename,
		f.MimeType,
		f.Size,
		f.Bytes,
		f.SHA256,
		f.UploadedBy,
		f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert file: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetFileByID retrieves a full blob row, bytes included.
func (r *Repository) GetFileByID(ctx context.Context, id string) (*StoredFile, error) {
	f := &StoredFile{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, filename, mime_type, size, bytes, sha256, uploaded_by, created_at
		FROM files WHERE id = $1
	`, id).Scan(
		&f.ID,
		&f.Filename,
		&f.MimeType,
		&f.Size,
		&f.Bytes,
		&f.SHA256,
		&f.UploadedBy,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// FileExists reports whether a blob row exists, without loading its bytes.
func (r *Repository) FileExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM files WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check file: %w", err)
	}
	return exists, nil
}

// GetFileBySHA256 finds the blob row for a digest. Returns (nil, nil) when no
// row matches; absence is an expected outcome for dedup checks, not an error.
func (r *Repository) GetFileBySHA256(ctx context.Context, digest string) (*StoredFile, error) {
	f := &StoredFile{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, filename, mime_type, size, bytes, sha256, uploaded_by, created_at
		FROM files WHERE sha256 = $1
	`, digest).Scan(
		&f.ID,
		&f.Filename,
		&f.MimeType,
		&f.Size,
		&f.Bytes,
		&f.SHA256,
		&f.UploadedBy,
		&f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query file by digest: %w", err)
	}
	return f, nil
}

// ListFiles returns metadata for all blob rows in creation order.
// Bytes are not loaded.
func (r *Repository) ListFiles(ctx context.Context) ([]*StoredFile, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+fileMetaColumns+` FROM files ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	return scanFileMeta(rows)
}

// CreateBlogPost inserts a blog post row and fills in the generated id.
func (r *Repository) CreateBlogPost(ctx context.Context, p *BlogPost) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO blog_posts (slug, title) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title
		RETURNING id
	`, p.Slug, p.Title).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create blog post: %w", err)
	}
	return nil
}

// CreateProject inserts a project row and fills in the generated id.
func (r *Repository) CreateProject(ctx context.Context, p *Project) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO projects (slug, title) VALUES ($1, $2)
		ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title
		RETURNING id
	`, p.Slug, p.Title).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// BlogPostExists reports whether a blog post row exists.
func (r *Repository) BlogPostExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM blog_posts WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blog post: %w", err)
	}
	return exists, nil
}

// ProjectExists reports whether a project row exists.
func (r *Repository) ProjectExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	return exists, nil
}

// AttachFileToBlogPost inserts an attachment join row.
// Re-attaching the same pair is a no-op.
func (r *Repository) AttachFileToBlogPost(ctx context.Context, blogPostID int64, fileID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO blog_post_files (blog_post_id, file_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, blogPostID, fileID)
	if err != nil {
		return fmt.Errorf("failed to attach file to blog post: %w", err)
	}
	return nil
}

// AttachFileToProject inserts an attachment join row.
// Re-attaching the same pair is a no-op.
func (r *Repository) AttachFileToProject(ctx context.Context, projectID int64, fileID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO project_files (project_id, file_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, projectID, fileID)
	if err != nil {
		return fmt.Errorf("failed to attach file to project: %w", err)
	}
	return nil
}

// ListBlogPostFiles returns metadata for files attached to a blog post.
func (r *Repository) ListBlogPostFiles(ctx context.Context, blogPostID int64) ([]*StoredFile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileMetaColumns+` FROM files f
		JOIN blog_post_files bpf ON bpf.file_id = f.id
		WHERE bpf.blog_post_id = $1
		ORDER BY f.created_at, f.id
	`, blogPostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list blog post files: %w", err)
	}
	defer rows.Close()
	return scanFileMeta(rows)
}

// ListProjectFiles returns metadata for files attached to a project.
func (r *Repository) ListProjectFiles(ctx context.Context, projectID int64) ([]*StoredFile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+fileMetaColumns+` FROM files f
		JOIN project_files pf ON pf.file_id = f.id
		WHERE pf.project_id = $1
		ORDER BY f.created_at, f.id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}
	defer rows.Close()
	return scanFileMeta(rows)
}

// SetBlogPostCover sets or clears (nil) the cover file of a blog post.
func (r *Repository) SetBlogPostCover(ctx context.Context, blogPostID int64, fileID *string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE blog_posts SET cover_file_id = $1 WHERE id = $2", fileID, blogPostID)
	if err != nil {
		return fmt.Errorf("failed to set blog post cover: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlogPostNotFound
	}
	return nil
}

// SetProjectCover sets or clears (nil) the cover file of a project.
func (r *Repository) SetProjectCover(ctx context.Context, projectID int64, fileID *string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE projects SET cover_file_id = $1 WHERE id = $2", fileID, projectID)
	if err != nil {
		return fmt.Errorf("failed to set project cover: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// GetStats returns aggregate media statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM files),
			(SELECT COALESCE(SUM(size), 0) FROM files),
			(SELECT COUNT(*) FROM blog_post_files),
			(SELECT COUNT(*) FROM project_files)
	`).Scan(
		&stats.TotalFiles,
		&stats.StorageBytes,
		&stats.BlogPostAttachments,
		&stats.ProjectAttachments,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// CountOrphanFiles counts blobs with no attachment row and no cover
// reference. Orphans are never deleted; the auditor only reports them.
func (r *Repository) CountOrphanFiles(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM files f
		WHERE NOT EXISTS (SELECT 1 FROM blog_post_files WHERE file_id = f.id)
		  AND NOT EXISTS (SELECT 1 FROM project_files WHERE file_id = f.id)
		  AND NOT EXISTS (SELECT 1 FROM blog_posts WHERE cover_file_id = f.id)
		  AND NOT EXISTS (SELECT 1 FROM projects WHERE cover_file_id = f.id)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orphan files: %w", err)
	}
	return n, nil
}

func scanFileMeta(rows pgx.Rows) ([]*StoredFile, error) {
	var files []*StoredFile
	for rows.Next() {
		f := &StoredFile{}
		if err := rows.Scan(
			&f.ID,
			&f.Filename,
			&f.MimeType,
			&f.Size,
			&f.SHA256,
			&f.UploadedBy,
			&f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

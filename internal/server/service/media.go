package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mediad/internal/server/auth"
	"mediad/internal/server/database"
	"mediad/internal/server/upload"
)

// Sentinel errors for the service layer.
var (
	ErrFileNotFound         = errors.New("file not found")
	ErrBlogPostNotFound     = errors.New("blog post not found")
	ErrProjectNotFound      = errors.New("project not found")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// allowedMimeTypes is the upload allow-list. Anything else is rejected
// before the store is touched.
var allowedMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
	"video/mp4":  true,
	"video/webm": true,
}

// Repository is the persistence surface the service needs. The pgx-backed
// implementation lives in the database package; tests inject an in-memory
// fake.
type Repository interface {
	InsertFile(ctx context.Context, f *database.StoredFile) (bool, error)
	GetFileByID(ctx context.Context, id string) (*database.StoredFile, error)
	GetFileBySHA256(ctx context.Context, digest string) (*database.StoredFile, error)
	FileExists(ctx context.Context, id string) (bool, error)
	ListFiles(ctx context.Context) ([]*database.StoredFile, error)
	CreateBlogPost(ctx context.Context, p *database.BlogPost) error
	CreateProject(ctx context.Context, p *database.Project) error
	BlogPostExists(ctx context.Context, id int64) (bool, error)
	ProjectExists(ctx context.Context, id int64) (bool, error)
	AttachFileToBlogPost(ctx context.Context, blogPostID int64, fileID string) error
	AttachFileToProject(ctx context.Context, projectID int64, fileID string) error
	ListBlogPostFiles(ctx context.Context, blogPostID int64) ([]*database.StoredFile, error)
	ListProjectFiles(ctx context.Context, projectID int64) ([]*database.StoredFile, error)
	SetBlogPostCover(ctx context.Context, blogPostID int64, fileID *string) error
	SetProjectCover(ctx context.Context, projectID int64, fileID *string) error
	GetStats(ctx context.Context) (*database.Stats, error)
	CountOrphanFiles(ctx context.Context) (int64, error)
}

// FileRecord is the external projection of a stored file. Bytes never leave
// through this shape; they are only served by the file endpoint.
type FileRecord struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	URL        string    `json:"url"`
}

// MediaService contains the business logic for the content-addressed media
// store. Every mutating method re-checks admin authorization through the
// gate's procedure form, independent of the HTTP middleware.
type MediaService struct {
	repo Repository
	gate *auth.Gate
}

// NewMediaService creates a new media service.
func NewMediaService(repo Repository, gate *auth.Gate) *MediaService {
	return &MediaService{repo: repo, gate: gate}
}

// Upload stores an extracted file, deduplicating on content. The bool result
// reports whether a new blob row was created; a digest match returns the
// existing record untouched, filename included.
func (s *MediaService) Upload(ctx context.Context, file *upload.File, uploadedBy string) (*FileRecord, bool, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, false, err
	}

	if !allowedMimeTypes[file.MimeType] {
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, file.MimeType)
	}

	sum := sha256.Sum256(file.Data)
	digest := hex.EncodeToString(sum[:])

	existing, err := s.repo.GetFileBySHA256(ctx, digest)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		slog.Info("duplicate upload deduplicated",
			"id", existing.ID,
			"sha256", digest,
			"filename", file.Filename,
		)
		return s.record(existing), false, nil
	}

	stored := &database.StoredFile{
		ID:         uuid.NewString(),
		Filename:   file.Filename,
		MimeType:   file.MimeType,
		Size:       file.Size,
		Bytes:      file.Data,
		SHA256:     digest,
		UploadedBy: uploadedBy,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.InsertFile(ctx, stored)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store file: %w", err)
	}
	if !created {
		// A concurrent identical upload won the insert; return its row.
		winner, err := s.repo.GetFileBySHA256(ctx, digest)
		if err != nil {
			return nil, false, err
		}
		if winner == nil {
			return nil, false, fmt.Errorf("file with digest %s vanished after insert conflict", digest)
		}
		return s.record(winner), false, nil
	}

	slog.Info("file stored",
		"id", stored.ID,
		"filename", stored.Filename,
		"mime_type", stored.MimeType,
		"size", stored.Size,
		"sha256", digest,
		"uploaded_by", uploadedBy,
	)
	return s.record(stored), true, nil
}

// GetFile returns a full blob row, bytes included. Public.
func (s *MediaService) GetFile(ctx context.Context, id string) (*database.StoredFile, error) {
	f, err := s.repo.GetFileByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListFiles returns all stored files in creation order. Admin only.
func (s *MediaService) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, err
	}
	files, err := s.repo.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	return s.records(files), nil
}

// AttachToBlogPost associates a file with a blog post. Idempotent.
func (s *MediaService) AttachToBlogPost(ctx context.Context, blogPostID int64, fileID string) error {
	if err := s.gate.Authorize(ctx); err != nil {
		return err
	}
	if err := s.requireFile(ctx, fileID); err != nil {
		return err
	}
	exists, err := s.repo.BlogPostExists(ctx, blogPostID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBlogPostNotFound
	}
	return s.repo.AttachFileToBlogPost(ctx, blogPostID, fileID)
}

// AttachToProject associates a file with a project. Idempotent.
func (s *MediaService) AttachToProject(ctx context.Context, projectID int64, fileID string) error {
	if err := s.gate.Authorize(ctx); err != nil {
		return err
	}
	if err := s.requireFile(ctx, fileID); err != nil {
		return err
	}
	exists, err := s.repo.ProjectExists(ctx, projectID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrProjectNotFound
	}
	return s.repo.AttachFileToProject(ctx, projectID, fileID)
}

// SetBlogPostCover sets or clears (nil) a blog post's cover file.
func (s *MediaService) SetBlogPostCover(ctx context.Context, blogPostID int64, fileID *string) error {
	if err := s.gate.Authorize(ctx); err != nil {
		return err
	}
	if fileID != nil {
		if err := s.requireFile(ctx, *fileID); err != nil {
			return err
		}
	}
	if err := s.repo.SetBlogPostCover(ctx, blogPostID, fileID); err != nil {
		if errors.Is(err, database.ErrBlogPostNotFound) {
			return ErrBlogPostNotFound
		}
		return err
	}
	return nil
}

// SetProjectCover sets or clears (nil) a project's cover file.
func (s *MediaService) SetProjectCover(ctx context.Context, projectID int64, fileID *string) error {
	if err := s.gate.Authorize(ctx); err != nil {
		return err
	}
	if fileID != nil {
		if err := s.requireFile(ctx, *fileID); err != nil {
			return err
		}
	}
	if err := s.repo.SetProjectCover(ctx, projectID, fileID); err != nil {
		if errors.Is(err, database.ErrProjectNotFound) {
			return ErrProjectNotFound
		}
		return err
	}
	return nil
}

// ListBlogPostFiles returns files attached to a blog post. Public.
func (s *MediaService) ListBlogPostFiles(ctx context.Context, blogPostID int64) ([]*FileRecord, error) {
	exists, err := s.repo.BlogPostExists(ctx, blogPostID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrBlogPostNotFound
	}
	files, err := s.repo.ListBlogPostFiles(ctx, blogPostID)
	if err != nil {
		return nil, err
	}
	return s.records(files), nil
}

// ListProjectFiles returns files attached to a project. Public.
func (s *MediaService) ListProjectFiles(ctx context.Context, projectID int64) ([]*FileRecord, error) {
	exists, err := s.repo.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrProjectNotFound
	}
	files, err := s.repo.ListProjectFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.records(files), nil
}

// CreateBlogPost inserts an entity row for media to attach to. Admin only;
// used by the seed command.
func (s *MediaService) CreateBlogPost(ctx context.Context, slug, title string) (*database.BlogPost, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, err
	}
	p := &database.BlogPost{Slug: slug, Title: title}
	if err := s.repo.CreateBlogPost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateProject inserts an entity row for media to attach to. Admin only;
// used by the seed command.
func (s *MediaService) CreateProject(ctx context.Context, slug, title string) (*database.Project, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, err
	}
	p := &database.Project{Slug: slug, Title: title}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetStats returns aggregate media statistics. Admin only.
func (s *MediaService) GetStats(ctx context.Context) (*database.Stats, error) {
	if err := s.gate.Authorize(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetStats(ctx)
}

func (s *MediaService) requireFile(ctx context.Context, fileID string) error {
	exists, err := s.repo.FileExists(ctx, fileID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrFileNotFound
	}
	return nil
}

func (s *MediaService) record(f *database.StoredFile) *FileRecord {
	return &FileRecord{
		ID:         f.ID,
		Filename:   f.Filename,
		MimeType:   f.MimeType,
		Size:       f.Size,
		SHA256:     f.SHA256,
		UploadedBy: f.UploadedBy,
		CreatedAt:  f.CreatedAt,
		URL:        "/api/files/" + f.ID,
	}
}

func (s *MediaService) records(files []*database.StoredFile) []*FileRecord {
	records := make([]*FileRecord, 0, len(files))
	for _, f := range files {
		records = append(records, s.record(f))
	}
	return records
}

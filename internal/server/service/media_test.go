package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"mediad/internal/server/auth"
	"mediad/internal/server/database"
	"mediad/internal/server/upload"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	files      map[string]*database.StoredFile
	bySHA      map[string]string
	blogPosts  map[int64]*database.BlogPost
	projects   map[int64]*database.Project
	blogAttach map[string]bool
	projAttach map[string]bool
	nextEntity int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		files:      make(map[string]*database.StoredFile),
		bySHA:      make(map[string]string),
		blogPosts:  make(map[int64]*database.BlogPost),
		projects:   make(map[int64]*database.Project),
		blogAttach: make(map[string]bool),
		projAttach: make(map[string]bool),
	}
}

func (r *fakeRepo) InsertFile(_ context.Context, f *database.StoredFile) (bool, error) {
	if _, ok := r.bySHA[f.SHA256]; ok {
		return false, nil
	}
	r.files[f.ID] = f
	r.bySHA[f.SHA256] = f.ID
	return true, nil
}

func (r *fakeRepo) GetFileByID(_ context.Context, id string) (*database.StoredFile, error) {
	f, ok := r.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	return f, nil
}

func (r *fakeRepo) GetFileBySHA256(_ context.Context, digest string) (*database.StoredFile, error) {
	id, ok := r.bySHA[digest]
	if !ok {
		return nil, nil
	}
	return r.files[id], nil
}

func (r *fakeRepo) FileExists(_ context.Context, id string) (bool, error) {
	_, ok := r.files[id]
	return ok, nil
}

func (r *fakeRepo) ListFiles(_ context.Context) ([]*database.StoredFile, error) {
	var files []*database.StoredFile
	for _, f := range r.files {
		files = append(files, f)
	}
	return files, nil
}

func (r *fakeRepo) CreateBlogPost(_ context.Context, p *database.BlogPost) error {
	r.nextEntity++
	p.ID = r.nextEntity
	r.blogPosts[p.ID] = p
	return nil
}

func (r *fakeRepo) CreateProject(_ context.Context, p *database.Project) error {
	r.nextEntity++
	p.ID = r.nextEntity
	r.projects[p.ID] = p
	return nil
}

func (r *fakeRepo) BlogPostExists(_ context.Context, id int64) (bool, error) {
	_, ok := r.blogPosts[id]
	return ok, nil
}

func (r *fakeRepo) ProjectExists(_ context.Context, id int64) (bool, error) {
	_, ok := r.projects[id]
	return ok, nil
}

func (r *fakeRepo) AttachFileToBlogPost(_ context.Context, blogPostID int64, fileID string) error {
	r.blogAttach[fmt.Sprintf("%d:%s", blogPostID, fileID)] = true
	return nil
}

func (r *fakeRepo) AttachFileToProject(_ context.Context, projectID int64, fileID string) error {
	r.projAttach[fmt.Sprintf("%d:%s", projectID, fileID)] = true
	return nil
}

func (r *fakeRepo) ListBlogPostFiles(_ context.Context, blogPostID int64) ([]*database.StoredFile, error) {
	var files []*database.StoredFile
	for key := range r.blogAttach {
		var id int64
		var fileID string
		fmt.Sscanf(key, "%d:%s", &id, &fileID)
		if id == blogPostID {
			files = append(files, r.files[fileID])
		}
	}
	return files, nil
}

func (r *fakeRepo) ListProjectFiles(_ context.Context, projectID int64) ([]*database.StoredFile, error) {
	var files []*database.StoredFile
	for key := range r.projAttach {
		var id int64
		var fileID string
		fmt.Sscanf(key, "%d:%s", &id, &fileID)
		if id == projectID {
			files = append(files, r.files[fileID])
		}
	}
	return files, nil
}

func (r *fakeRepo) SetBlogPostCover(_ context.Context, blogPostID int64, fileID *string) error {
	p, ok := r.blogPosts[blogPostID]
	if !ok {
		return database.ErrBlogPostNotFound
	}
	p.CoverFileID = fileID
	return nil
}

func (r *fakeRepo) SetProjectCover(_ context.Context, projectID int64, fileID *string) error {
	p, ok := r.projects[projectID]
	if !ok {
		return database.ErrProjectNotFound
	}
	p.CoverFileID = fileID
	return nil
}

func (r *fakeRepo) GetStats(_ context.Context) (*database.Stats, error) {
	stats := &database.Stats{
		TotalFiles:          int64(len(r.files)),
		BlogPostAttachments: int64(len(r.blogAttach)),
		ProjectAttachments:  int64(len(r.projAttach)),
	}
	for _, f := range r.files {
		stats.StorageBytes += f.Size
	}
	return stats, nil
}

func (r *fakeRepo) CountOrphanFiles(_ context.Context) (int64, error) {
	var orphans int64
	for id := range r.files {
		referenced := false
		for key := range r.blogAttach {
			if strings.HasSuffix(key, ":"+id) {
				referenced = true
			}
		}
		for key := range r.projAttach {
			if strings.HasSuffix(key, ":"+id) {
				referenced = true
			}
		}
		if !referenced {
			orphans++
		}
	}
	return orphans, nil
}

// racingRepo hides the digest row from the first lookup, forcing the
// insert to lose the unique-constraint race instead of short-circuiting
// on the dedup check.
type racingRepo struct {
	*fakeRepo
	lookups int
	inserts int
}

func (r *racingRepo) GetFileBySHA256(ctx context.Context, digest string) (*database.StoredFile, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, nil
	}
	return r.fakeRepo.GetFileBySHA256(ctx, digest)
}

func (r *racingRepo) InsertFile(ctx context.Context, f *database.StoredFile) (bool, error) {
	r.inserts++
	return r.fakeRepo.InsertFile(ctx, f)
}

const testToken = "test-admin-token"

func newTestService() (*MediaService, *fakeRepo, context.Context) {
	repo := newFakeRepo()
	gate := auth.NewGate(testToken)
	svc := NewMediaService(repo, gate)
	ctx := auth.WithToken(context.Background(), testToken)
	return svc, repo, ctx
}

func pngUpload(name string, data []byte) *upload.File {
	return &upload.File{
		Filename: name,
		MimeType: "image/png",
		Data:     data,
		Size:     int64(len(data)),
	}
}

func TestUpload(t *testing.T) {
	t.Run("stores a new file", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		record, created, err := svc.Upload(ctx, pngUpload("a.png", []byte("hello-test")), "admin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !created {
			t.Error("expected created=true for a fresh upload")
		}
		if record.Filename != "a.png" {
			t.Errorf("expected filename a.png, got %q", record.Filename)
		}
		if record.Size != 10 {
			t.Errorf("expected size 10, got %d", record.Size)
		}
		if len(record.SHA256) != 64 {
			t.Errorf("expected 64-char hex digest, got %q", record.SHA256)
		}
		if record.URL != "/api/files/"+record.ID {
			t.Errorf("unexpected url %q", record.URL)
		}
		if record.UploadedBy != "admin" {
			t.Errorf("expected uploadedBy admin, got %q", record.UploadedBy)
		}
		if len(repo.files) != 1 {
			t.Errorf("expected 1 stored row, got %d", len(repo.files))
		}
	})

	t.Run("dedups identical content", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		first, created, err := svc.Upload(ctx, pngUpload("a.png", []byte("hello-test")), "admin")
		if err != nil || !created {
			t.Fatalf("first upload failed: created=%v err=%v", created, err)
		}

		second, created, err := svc.Upload(ctx, pngUpload("b.png", []byte("hello-test")), "admin")
		if err != nil {
			t.Fatalf("second upload failed: %v", err)
		}
		if created {
			t.Error("expected created=false for duplicate content")
		}
		if second.ID != first.ID {
			t.Errorf("expected same id, got %s and %s", first.ID, second.ID)
		}
		if second.SHA256 != first.SHA256 {
			t.Errorf("expected same digest, got %s and %s", first.SHA256, second.SHA256)
		}
		// Filename stays whatever the first insert recorded.
		if second.Filename != "a.png" {
			t.Errorf("expected filename a.png, got %q", second.Filename)
		}
		if len(repo.files) != 1 {
			t.Errorf("expected exactly 1 row after duplicate upload, got %d", len(repo.files))
		}
	})

	t.Run("resolves a lost insert race to the surviving row", func(t *testing.T) {
		repo := newFakeRepo()

		// The winner row exists, but the first digest lookup misses it,
		// as when a concurrent upload lands between the dedup check and
		// the insert. The insert must then hit the unique-constraint
		// conflict and the re-select must return the winner.
		sum := sha256.Sum256([]byte("hello-test"))
		winner := &database.StoredFile{
			ID:        "winner",
			Filename:  "w.png",
			MimeType:  "image/png",
			SHA256:    hex.EncodeToString(sum[:]),
			CreatedAt: time.Now().UTC(),
		}
		repo.files[winner.ID] = winner
		repo.bySHA[winner.SHA256] = winner.ID

		racing := &racingRepo{fakeRepo: repo}
		svc := NewMediaService(racing, auth.NewGate(testToken))
		ctx := auth.WithToken(context.Background(), testToken)

		record, created, err := svc.Upload(ctx, pngUpload("x.png", []byte("hello-test")), "admin")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if created {
			t.Error("expected created=false for a lost insert race")
		}
		if record.ID != "winner" {
			t.Errorf("expected the surviving row, got %s", record.ID)
		}
		if racing.inserts != 1 {
			t.Errorf("expected the insert to be attempted once, got %d", racing.inserts)
		}
		if len(repo.files) != 1 {
			t.Errorf("expected exactly 1 row after the conflict, got %d", len(repo.files))
		}
	})

	t.Run("rejects disallowed mime type", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		f := &upload.File{Filename: "doc.pdf", MimeType: "application/pdf", Data: []byte("%PDF"), Size: 4}
		_, _, err := svc.Upload(ctx, f, "admin")
		if !errors.Is(err, ErrUnsupportedMediaType) {
			t.Errorf("expected ErrUnsupportedMediaType, got %v", err)
		}
		if len(repo.files) != 0 {
			t.Error("no row may be created for a rejected upload")
		}
	})

	t.Run("denies unauthorized context", func(t *testing.T) {
		svc, repo, _ := newTestService()

		_, _, err := svc.Upload(context.Background(), pngUpload("a.png", []byte("x")), "admin")
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		if len(repo.files) != 0 {
			t.Error("no row may be created without authorization")
		}
	})
}

func TestAttach(t *testing.T) {
	t.Run("attaches a file to a blog post", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		post, err := svc.CreateBlogPost(ctx, "hello", "Hello")
		if err != nil {
			t.Fatalf("failed to create post: %v", err)
		}
		record, _, err := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")
		if err != nil {
			t.Fatalf("failed to upload: %v", err)
		}

		if err := svc.AttachToBlogPost(ctx, post.ID, record.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repo.blogAttach) != 1 {
			t.Errorf("expected 1 join row, got %d", len(repo.blogAttach))
		}
	})

	t.Run("attaching twice is idempotent", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		post, _ := svc.CreateBlogPost(ctx, "hello", "Hello")
		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")

		if err := svc.AttachToBlogPost(ctx, post.ID, record.ID); err != nil {
			t.Fatalf("first attach failed: %v", err)
		}
		if err := svc.AttachToBlogPost(ctx, post.ID, record.ID); err != nil {
			t.Fatalf("second attach must not error: %v", err)
		}
		if len(repo.blogAttach) != 1 {
			t.Errorf("expected 1 join row after duplicate attach, got %d", len(repo.blogAttach))
		}
	})

	t.Run("missing file is not found", func(t *testing.T) {
		svc, _, ctx := newTestService()

		post, _ := svc.CreateBlogPost(ctx, "hello", "Hello")
		if err := svc.AttachToBlogPost(ctx, post.ID, "nope"); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("missing blog post is not found", func(t *testing.T) {
		svc, _, ctx := newTestService()

		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")
		if err := svc.AttachToBlogPost(ctx, 42, record.ID); !errors.Is(err, ErrBlogPostNotFound) {
			t.Errorf("expected ErrBlogPostNotFound, got %v", err)
		}
	})

	t.Run("project attach denies unauthorized context", func(t *testing.T) {
		svc, _, ctx := newTestService()

		project, _ := svc.CreateProject(ctx, "p", "P")
		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")

		err := svc.AttachToProject(context.Background(), project.ID, record.ID)
		if !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestSetCover(t *testing.T) {
	t.Run("sets and clears a project cover", func(t *testing.T) {
		svc, repo, ctx := newTestService()

		project, _ := svc.CreateProject(ctx, "p", "P")
		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")

		if err := svc.SetProjectCover(ctx, project.ID, &record.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := repo.projects[project.ID].CoverFileID; got == nil || *got != record.ID {
			t.Errorf("expected cover %s, got %v", record.ID, got)
		}

		if err := svc.SetProjectCover(ctx, project.ID, nil); err != nil {
			t.Fatalf("unexpected error clearing cover: %v", err)
		}
		if got := repo.projects[project.ID].CoverFileID; got != nil {
			t.Errorf("expected cleared cover, got %v", *got)
		}
	})

	t.Run("missing cover file is not found", func(t *testing.T) {
		svc, _, ctx := newTestService()

		post, _ := svc.CreateBlogPost(ctx, "hello", "Hello")
		missing := "nope"
		if err := svc.SetBlogPostCover(ctx, post.ID, &missing); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound, got %v", err)
		}
	})

	t.Run("missing entity is not found", func(t *testing.T) {
		svc, _, ctx := newTestService()

		if err := svc.SetBlogPostCover(ctx, 42, nil); !errors.Is(err, ErrBlogPostNotFound) {
			t.Errorf("expected ErrBlogPostNotFound, got %v", err)
		}
		if err := svc.SetProjectCover(ctx, 42, nil); !errors.Is(err, ErrProjectNotFound) {
			t.Errorf("expected ErrProjectNotFound, got %v", err)
		}
	})
}

func TestListFiles(t *testing.T) {
	t.Run("requires authorization", func(t *testing.T) {
		svc, _, _ := newTestService()

		if _, err := svc.ListFiles(context.Background()); !errors.Is(err, auth.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("projects records with urls", func(t *testing.T) {
		svc, _, ctx := newTestService()

		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")
		records, err := svc.ListFiles(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if records[0].URL != "/api/files/"+record.ID {
			t.Errorf("unexpected url %q", records[0].URL)
		}
	})
}

func TestListAttachments(t *testing.T) {
	t.Run("missing entity is not found", func(t *testing.T) {
		svc, _, ctx := newTestService()

		if _, err := svc.ListBlogPostFiles(ctx, 42); !errors.Is(err, ErrBlogPostNotFound) {
			t.Errorf("expected ErrBlogPostNotFound, got %v", err)
		}
		if _, err := svc.ListProjectFiles(ctx, 42); !errors.Is(err, ErrProjectNotFound) {
			t.Errorf("expected ErrProjectNotFound, got %v", err)
		}
	})

	t.Run("lists attached files", func(t *testing.T) {
		svc, _, ctx := newTestService()

		post, _ := svc.CreateBlogPost(ctx, "hello", "Hello")
		record, _, _ := svc.Upload(ctx, pngUpload("a.png", []byte("data")), "admin")
		if err := svc.AttachToBlogPost(ctx, post.ID, record.ID); err != nil {
			t.Fatalf("attach failed: %v", err)
		}

		records, err := svc.ListBlogPostFiles(ctx, post.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(records) != 1 || records[0].ID != record.ID {
			t.Errorf("expected the attached file, got %+v", records)
		}
	})
}

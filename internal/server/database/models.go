package database

import "time"

// StoredFile is a content-addressed blob row. Bytes are immutable after
// insert; the sha256 digest uniquely identifies the content.
type StoredFile struct {
	ID         string
	Filename   string
	MimeType   string
	Size       int64
	Bytes      []byte
	SHA256     string
	UploadedBy string
	CreatedAt  time.Time
}

// BlogPost is the minimal blog entity the media layer attaches files to.
type BlogPost struct {
	ID          int64
	Slug        string
	Title       string
	CoverFileID *string
	CreatedAt   time.Time
}

// Project is the minimal portfolio entity the media layer attaches files to.
type Project struct {
	ID          int64
	Slug        string
	Title       string
	CoverFileID *string
	CreatedAt   time.Time
}

// Stats holds aggregate media statistics.
type Stats struct {
	TotalFiles          int64
	StorageBytes        int64
	BlogPostAttachments int64
	ProjectAttachments  int64
}

package file

import (
	"context"
	"fmt"
	"time"

	"file-service/internal/user"

	"github.com/uptrace/bun"
)

// Status tracks a record through the two-phase delete.
type Status string

const (
	StatusActive   Status = "active"
	StatusDeleting Status = "deleting"
)

// File is the metadata of one uploaded blob. StorageKey is set on insert and
// never updated; Status is the only mutable column.
type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID           int64      `bun:"id,pk,autoincrement"`
	OwnerID      int64      `bun:"owner_id,notnull"`
	Owner        *user.User `bun:"rel:belongs-to,join:owner_id=id"`
	Title        string     `bun:"title,notnull"`
	OriginalName string     `bun:"original_name,notnull"`
	ContentType  string     `bun:"content_type,notnull"`
	SizeBytes    int64      `bun:"size_bytes,notnull"`
	StorageKey   string     `bun:"storage_key,unique,notnull"`
	Status       Status     `bun:"status,notnull"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

var _ bun.BeforeCreateTableHook = (*File)(nil)

func (*File) BeforeCreateTable(ctx context.Context, query *bun.CreateTableQuery) error {
	query.ForeignKey(`("owner_id") REFERENCES "users" ("id") ON DELETE CASCADE`)
	return nil
}

// Indexes backs the listing query's filter and order.
var Indexes = []string{
	`CREATE INDEX IF NOT EXISTS files_status_created_idx ON files (status, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS files_owner_idx ON files (owner_id)`,
}

// View is the JSON shape of a file record.
type View struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	OriginalName    string    `json:"original_name"`
	ContentType     string    `json:"content_type"`
	SizeBytes       int64     `json:"size_bytes"`
	OwnerID         int64     `json:"owner_id"`
	UploadedByEmail string    `json:"uploaded_by_email,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	DownloadURL     string    `json:"download_url"`
}

func (f *File) View() View {
	v := View{
		ID:           f.ID,
		Title:        f.Title,
		OriginalName: f.OriginalName,
		ContentType:  f.ContentType,
		SizeBytes:    f.SizeBytes,
		OwnerID:      f.OwnerID,
		CreatedAt:    f.CreatedAt,
		DownloadURL:  fmt.Sprintf("/api/files/%d/download", f.ID),
	}
	if f.Owner != nil {
		v.UploadedByEmail = f.Owner.Email
	}
	return v
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vstore/vstore/common/db"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/models"
)

// FileRepository handles database operations for stored files
type FileRepository struct {
	db *db.DB
}

// NewFileRepository creates a new file repository
func NewFileRepository(database *db.DB) *FileRepository {
	return &FileRepository{db: database}
}

const fileColumns = `uuid, md5_hash, descriptive_name, mime_type, extension,
	created_at, file_size, upload_pending, upload_failed, delete_pending,
	is_private, node_ids, context_json, path`

// Create inserts a new file row
func (r *FileRepository) Create(ctx context.Context, f *models.StoredFile) error {
	contextJSON, err := marshalContext(f.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.Exec(
		ctx,
		query,
		f.ID,
		f.MD5,
		f.Name,
		f.MimeType,
		f.Extension,
		f.CreatedAt.Unix(),
		f.Size,
		f.UploadPending,
		f.UploadFailed,
		f.DeletePending,
		f.IsPrivate,
		f.NodeIDs,
		contextJSON,
		f.Path,
	)

	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	return nil
}

// GetByID retrieves a file by its UUID
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE uuid = $1`

	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	return f, nil
}

// ExistsByMD5 reports whether a file with the given content hash is stored
func (r *FileRepository) ExistsByMD5(ctx context.Context, md5 string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM files WHERE md5_hash = $1 AND NOT delete_pending)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, md5).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check md5: %w", err)
	}

	return exists, nil
}

// SetUploadState updates the upload flags of a file
func (r *FileRepository) SetUploadState(ctx context.Context, id string, pending, failed bool) error {
	query := `UPDATE files SET upload_pending = $2, upload_failed = $3 WHERE uuid = $1`

	_, err := r.db.Exec(ctx, query, id, pending, failed)
	if err != nil {
		return fmt.Errorf("failed to update upload state: %w", err)
	}

	return nil
}

// SetNodeIDs records the nodes a file was assigned to
func (r *FileRepository) SetNodeIDs(ctx context.Context, id string, nodeIDs []string) error {
	query := `UPDATE files SET node_ids = $2 WHERE uuid = $1`

	_, err := r.db.Exec(ctx, query, id, nodeIDs)
	if err != nil {
		return fmt.Errorf("failed to update node ids: %w", err)
	}

	return nil
}

// MarkDeletePending soft-deletes a file
func (r *FileRepository) MarkDeletePending(ctx context.Context, id string) error {
	query := `UPDATE files SET delete_pending = TRUE WHERE uuid = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark delete pending: %w", err)
	}

	return nil
}

// Delete removes a file row
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM files WHERE uuid = $1`

	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// ListUploadPending retrieves files whose upload has not completed
func (r *FileRepository) ListUploadPending(ctx context.Context) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE upload_pending ORDER BY created_at`
	return r.list(ctx, query)
}

// ListDeletePending retrieves files flagged for deletion
func (r *FileRepository) ListDeletePending(ctx context.Context) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE delete_pending ORDER BY created_at`
	return r.list(ctx, query)
}

// ListAll retrieves every file, newest first
func (r *FileRepository) ListAll(ctx context.Context) ([]*models.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE NOT delete_pending ORDER BY created_at DESC`
	return r.list(ctx, query)
}

func (r *FileRepository) list(ctx context.Context, query string) ([]*models.StoredFile, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	var files []*models.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, f)
	}

	return files, rows.Err()
}

func scanFile(row pgx.Row) (*models.StoredFile, error) {
	f := &models.StoredFile{}
	var createdAt int64
	var contextJSON []byte

	err := row.Scan(
		&f.ID,
		&f.MD5,
		&f.Name,
		&f.MimeType,
		&f.Extension,
		&createdAt,
		&f.Size,
		&f.UploadPending,
		&f.UploadFailed,
		&f.DeletePending,
		&f.IsPrivate,
		&f.NodeIDs,
		&contextJSON,
		&f.Path,
	)
	if err != nil {
		return nil, err
	}

	f.CreatedAt = time.Unix(createdAt, 0)
	if len(contextJSON) > 0 && string(contextJSON) != "{}" {
		f.Context = &models.ContextDescription{}
		if err := json.Unmarshal(contextJSON, f.Context); err != nil {
			return nil, fmt.Errorf("failed to parse file context: %w", err)
		}
	}

	return f, nil
}

func marshalContext(c *models.ContextDescription) ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize context: %w", err)
	}
	return data, nil
}

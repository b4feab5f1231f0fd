package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) FindBlob(ctx context.Context, digest string) (Blob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT digest,size,storage_key,ref_count,created_at FROM blobs WHERE digest=$1`, digest)
	var b Blob
	if err := row.Scan(&b.Digest, &b.Size, &b.StorageKey, &b.RefCount, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Blob{}, ErrBlobNotFound
		}
		return Blob{}, err
	}
	return b, nil
}

// AddRef is the whole find+create/increment critical section: the primary
// key on digest serializes concurrent identical uploads, so exactly one of
// them sees ref_count 1 back.
func (s *SQLStore) AddRef(ctx context.Context, b Blob) (int64, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO blobs (digest,size,storage_key,ref_count,created_at)
		 VALUES ($1,$2,$3,1,$4)
		 ON CONFLICT (digest) DO UPDATE SET ref_count = blobs.ref_count + 1
		 RETURNING ref_count`,
		b.Digest, b.Size, b.StorageKey, time.Now().Unix())
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) ReleaseRef(ctx context.Context, digest string) (int64, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	var remaining int64
	var key string
	err = tx.QueryRowContext(ctx,
		`UPDATE blobs SET ref_count = ref_count - 1 WHERE digest=$1 RETURNING ref_count, storage_key`,
		digest).Scan(&remaining, &key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// defensive no-op on unknown digest
			return 0, "", tx.Commit()
		}
		return 0, "", err
	}
	if remaining <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE digest=$1`, digest); err != nil {
			return 0, "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, "", err
	}
	return remaining, key, nil
}

func (s *SQLStore) PutFile(ctx context.Context, f File) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (id,original_name,content_type,extension,digest,uploaded_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		f.ID, f.OriginalName, f.ContentType, f.Extension, f.Digest, f.UploadedAt.Unix())
	return err
}

const fileCols = `f.id, f.original_name, f.content_type, f.extension, f.digest, b.size, f.uploaded_at`

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	var uploaded int64
	if err := row.Scan(&f.ID, &f.OriginalName, &f.ContentType, &f.Extension, &f.Digest, &f.Size, &uploaded); err != nil {
		return File{}, err
	}
	f.UploadedAt = time.Unix(uploaded, 0).UTC()
	return f, nil
}

func (s *SQLStore) GetFile(ctx context.Context, id string) (File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileCols+` FROM files f JOIN blobs b ON b.digest = f.digest WHERE f.id=$1`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	return f, err
}

func (s *SQLStore) DeleteFile(ctx context.Context, id string) (int64, string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	var digest string
	if err := tx.QueryRowContext(ctx, `SELECT digest FROM files WHERE id=$1`, id).Scan(&digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrNotFound
		}
		return 0, "", err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return 0, "", err
	}
	// under read-committed a concurrent transaction can delete the row
	// after our SELECT; if we skipped this check both would decrement the
	// blob, dropping a count still owed to another record
	if n, err := res.RowsAffected(); err != nil {
		return 0, "", err
	} else if n == 0 {
		return 0, "", ErrNotFound
	}

	var remaining int64
	var key string
	err = tx.QueryRowContext(ctx,
		`UPDATE blobs SET ref_count = ref_count - 1 WHERE digest=$1 RETURNING ref_count, storage_key`,
		digest).Scan(&remaining, &key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// blob row missing: should not occur, treat as already released
			return 0, "", tx.Commit()
		}
		return 0, "", err
	}
	if remaining <= 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE digest=$1`, digest); err != nil {
			return 0, "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, "", err
	}
	return remaining, key, nil
}

func (s *SQLStore) ListFiles(ctx context.Context, opts ListOpts) ([]File, error) {
	q := `SELECT ` + fileCols + ` FROM files f JOIN blobs b ON b.digest = f.digest`
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if opts.NameContains != "" {
		add(`LOWER(f.original_name) LIKE $%d ESCAPE '\'`,
			"%"+escapeLike(strings.ToLower(opts.NameContains))+"%")
	}
	if opts.Extension != "" {
		add(`f.extension = $%d`, strings.ToLower(strings.TrimPrefix(opts.Extension, ".")))
	}
	if opts.ContentType != "" {
		add(`LOWER(f.content_type) = $%d`, strings.ToLower(opts.ContentType))
	}
	if opts.MinSize != nil {
		add(`b.size >= $%d`, *opts.MinSize)
	}
	if opts.MaxSize != nil {
		add(`b.size <= $%d`, *opts.MaxSize)
	}
	if opts.StartDate != nil {
		add(`f.uploaded_at >= $%d`, dayStart(*opts.StartDate))
	}
	if opts.EndDate != nil {
		// inclusive through the end of the day
		add(`f.uploaded_at < $%d`, dayStart(*opts.EndDate)+24*3600)
	}

	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY f.uploaded_at DESC, f.id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
		if opts.Offset > 0 {
			args = append(args, opts.Offset)
			q += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (StorageStats, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM files),
		(SELECT COUNT(*) FROM blobs),
		(SELECT COALESCE(SUM(b.size),0) FROM files f JOIN blobs b ON b.digest = f.digest),
		(SELECT COALESCE(SUM(size),0) FROM blobs)`)
	var st StorageStats
	if err := row.Scan(&st.LogicalFileCount, &st.PhysicalFileCount,
		&st.TotalLogicalSizeBytes, &st.TotalPhysicalSizeBytes); err != nil {
		return StorageStats{}, err
	}
	st.StorageSavingsBytes = st.TotalLogicalSizeBytes - st.TotalPhysicalSizeBytes
	return st, nil
}

// dayStart truncates t to 00:00:00 UTC of its calendar day.
func dayStart(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/fruitsalade/librarian/internal/logging"
	"github.com/fruitsalade/librarian/internal/metrics"
	"github.com/fruitsalade/librarian/pkg/models"
	"github.com/fruitsalade/librarian/pkg/protocol"
)

// Postgres is a Catalog backed by PostgreSQL.
type Postgres struct {
	db *sql.DB
}

var (
	_ Catalog = (*Postgres)(nil)
	_ Catalog = (*Memory)(nil)
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewPostgres opens and pings a PostgreSQL catalog.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgresWithDB wraps an existing connection pool.
func NewPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// UpdateConnectionMetrics publishes the pool's open connection count.
func (p *Postgres) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(p.db.Stats().OpenConnections)
}

// Migrate runs the *.up.sql files in dir in name order.
func (p *Postgres) Migrate(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		logging.Info("running migration", logging.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := p.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

func timed(query string) func() {
	start := time.Now()
	return func() { metrics.RecordDBQuery(query, time.Since(start)) }
}

// ─── Reads ──────────────────────────────────────────────────────────────────

func (p *Postgres) Libraries(ctx context.Context) ([]models.Container, error) {
	s := newSnapshot()
	if err := loadLibraries(ctx, p.db, s); err != nil {
		return nil, err
	}
	return libraryContainers(s), nil
}

func (p *Postgres) Folders(ctx context.Context, library string) ([]models.Container, error) {
	s := newSnapshot()
	if err := loadLibraries(ctx, p.db, s); err != nil {
		return nil, err
	}
	if _, ok := s.libraries[library]; !ok {
		return nil, notFound("library", library)
	}
	if err := loadFolders(ctx, p.db, s, library); err != nil {
		return nil, err
	}
	return folderTree(s, library), nil
}

func (p *Postgres) Items(ctx context.Context, library, folder string) (protocol.ItemsResponse, error) {
	s := newSnapshot()
	if err := loadLibraries(ctx, p.db, s); err != nil {
		return protocol.ItemsResponse{}, err
	}
	if _, ok := s.libraries[library]; !ok {
		return protocol.ItemsResponse{}, notFound("library", library)
	}
	if err := loadFolders(ctx, p.db, s, library); err != nil {
		return protocol.ItemsResponse{}, err
	}

	defer timed("list_items")()
	rows, err := p.db.QueryContext(ctx,
		`SELECT i.id, i.title, i.extension, i.size, i.content_type, i.storage_key, i.modified_at, COALESCE(m.folder_id, ''), m.owner
		 FROM memberships m JOIN items i ON i.id = m.item_id
		 WHERE m.library_id = $1`, library)
	if err != nil {
		return protocol.ItemsResponse{}, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		m := Membership{LibraryID: library}
		if err := rows.Scan(&it.ID, &it.Title, &it.Extension, &it.Size, &it.ContentType, &it.StorageKey, &it.ModifiedAt, &m.FolderID, &m.Owner); err != nil {
			return protocol.ItemsResponse{}, fmt.Errorf("scan item: %w", err)
		}
		m.ItemID = it.ID
		s.items[it.ID] = it
		s.memberships[it.ID] = append(s.memberships[it.ID], m)
	}
	if err := rows.Err(); err != nil {
		return protocol.ItemsResponse{}, err
	}
	return listing(s, library, folder)
}

func (p *Postgres) Item(ctx context.Context, id string) (Item, error) {
	defer timed("get_item")()
	var it Item
	err := p.db.QueryRowContext(ctx,
		`SELECT id, title, extension, size, content_type, storage_key, modified_at FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Title, &it.Extension, &it.Size, &it.ContentType, &it.StorageKey, &it.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, notFound("item", id)
	}
	if err != nil {
		return Item{}, fmt.Errorf("query item: %w", err)
	}
	return it, nil
}

// ─── Container writes ───────────────────────────────────────────────────────

func (p *Postgres) CreateLibrary(ctx context.Context, name string) (models.Container, error) {
	var out models.Container
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s := newSnapshot()
		if err := loadLibraries(ctx, tx, s); err != nil {
			return err
		}
		name, err := validateLibrary(s, name)
		if err != nil {
			return err
		}
		id := uuid.NewString()
		defer timed("insert_library")()
		if _, err := tx.ExecContext(ctx, `INSERT INTO libraries (id, name) VALUES ($1, $2)`, id, name); err != nil {
			return fmt.Errorf("insert library: %w", err)
		}
		out = models.Container{ID: models.LibraryID(id), Label: name}
		return nil
	})
	metrics.RecordCatalogMutation("create_library", err == nil, 0)
	return out, err
}

func (p *Postgres) CreateFolder(ctx context.Context, name, library, parent string) (models.Container, error) {
	var out models.Container
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s := newSnapshot()
		if err := loadLibraries(ctx, tx, s); err != nil {
			return err
		}
		if err := loadFolders(ctx, tx, s, library); err != nil {
			return err
		}
		name, err := validateFolder(s, name, library, parent)
		if err != nil {
			return err
		}
		id := uuid.NewString()
		defer timed("insert_folder")()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO folders (id, library_id, parent_id, name) VALUES ($1, $2, NULLIF($3, ''), $4)`,
			id, library, parent, name); err != nil {
			return fmt.Errorf("insert folder: %w", err)
		}
		out = models.Container{ID: models.FolderID(id), Label: name}
		return nil
	})
	metrics.RecordCatalogMutation("create_folder", err == nil, 0)
	return out, err
}

// ─── Item writes ────────────────────────────────────────────────────────────

func (p *Postgres) AddItem(ctx context.Context, item Item, library, folder string) (Item, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ModifiedAt.IsZero() {
		item.ModifiedAt = time.Now()
	}
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s := newSnapshot()
		if err := loadLibraries(ctx, tx, s); err != nil {
			return err
		}
		if err := loadFolders(ctx, tx, s, library); err != nil {
			return err
		}
		if err := validatePlacement(s, library, folder); err != nil {
			return err
		}
		defer timed("insert_item")()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, title, extension, size, content_type, storage_key, modified_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.Title, item.Extension, item.Size, item.ContentType, item.StorageKey, item.ModifiedAt); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return insertMembership(ctx, tx, Membership{ItemID: item.ID, LibraryID: library, FolderID: folder, Owner: true})
	})
	metrics.RecordCatalogMutation("add_item", err == nil, 1)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (p *Postgres) DeleteItems(ctx context.Context, ids []string) (models.DeleteResult, []Item, error) {
	var res models.DeleteResult
	var removed []Item
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s := newSnapshot()
		if err := loadItems(ctx, tx, s, ids); err != nil {
			return err
		}
		res, removed = planDelete(s, ids)
		if len(removed) == 0 {
			return nil
		}
		keys := make([]string, len(removed))
		for i, it := range removed {
			keys[i] = it.ID
		}
		defer timed("delete_items")()
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ANY($1)`, pq.Array(keys)); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.DeleteResult{}, nil, err
	}
	metrics.RecordCatalogMutation("delete", res.Success, res.SuccessCount)
	return res, removed, nil
}

// ─── Moves ──────────────────────────────────────────────────────────────────

func (p *Postgres) SmartMove(ctx context.Context, ids []string, dest models.ContainerID) (models.MoveResult, error) {
	folder := ""
	if dest.IsFolder() {
		folder = dest.Key
	}
	return p.move(ctx, "smart_move", ids, folder, func(s *snapshot) (models.MoveResult, changes) {
		return planSmartMove(s, ids, dest)
	})
}

func (p *Postgres) AddToLibrary(ctx context.Context, ids []string, library string) (models.MoveResult, error) {
	return p.move(ctx, "add_to_library", ids, "", func(s *snapshot) (models.MoveResult, changes) {
		return planAddToLibrary(s, ids, library)
	})
}

func (p *Postgres) MoveToFolder(ctx context.Context, ids []string, folder, library string) (models.MoveResult, error) {
	return p.move(ctx, "move_to_folder", ids, folder, func(s *snapshot) (models.MoveResult, changes) {
		return planMoveToFolder(s, ids, folder, library)
	})
}

// move loads the state a plan needs, locking the items' memberships, and
// writes back the memberships of every item the plan changed.
func (p *Postgres) move(ctx context.Context, op string, ids []string, folder string, plan func(*snapshot) (models.MoveResult, changes)) (models.MoveResult, error) {
	var res models.MoveResult
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		s := newSnapshot()
		if err := loadLibraries(ctx, tx, s); err != nil {
			return err
		}
		if folder != "" {
			if err := loadFolder(ctx, tx, s, folder); err != nil {
				return err
			}
		}
		if err := loadItems(ctx, tx, s, ids); err != nil {
			return err
		}
		if err := loadMemberships(ctx, tx, s, ids); err != nil {
			return err
		}

		var c changes
		res, c = plan(s)
		return writeChanges(ctx, tx, c)
	})
	if err != nil {
		return models.MoveResult{}, err
	}
	metrics.RecordCatalogMutation(op, res.Success, res.SuccessCount)
	return res, nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func writeChanges(ctx context.Context, tx *sql.Tx, c changes) error {
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	defer timed("write_memberships")()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE item_id = $1`, id); err != nil {
			return fmt.Errorf("clear memberships: %w", err)
		}
		for _, m := range c[id] {
			if err := insertMembership(ctx, tx, m); err != nil {
				return err
			}
		}
	}
	return nil
}

func insertMembership(ctx context.Context, q querier, m Membership) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO memberships (item_id, library_id, folder_id, owner) VALUES ($1, $2, NULLIF($3, ''), $4)`,
		m.ItemID, m.LibraryID, m.FolderID, m.Owner); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// ─── Loaders ────────────────────────────────────────────────────────────────

func loadLibraries(ctx context.Context, q querier, s *snapshot) error {
	defer timed("list_libraries")()
	rows, err := q.QueryContext(ctx, `SELECT id, name, created_at FROM libraries`)
	if err != nil {
		return fmt.Errorf("query libraries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var lib Library
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.CreatedAt); err != nil {
			return fmt.Errorf("scan library: %w", err)
		}
		s.libraries[lib.ID] = lib
	}
	return rows.Err()
}

func loadFolders(ctx context.Context, q querier, s *snapshot, library string) error {
	defer timed("list_folders")()
	rows, err := q.QueryContext(ctx,
		`SELECT id, library_id, COALESCE(parent_id, ''), name, created_at FROM folders WHERE library_id = $1`, library)
	if err != nil {
		return fmt.Errorf("query folders: %w", err)
	}
	return scanFolders(rows, s)
}

func loadFolder(ctx context.Context, q querier, s *snapshot, id string) error {
	defer timed("get_folder")()
	rows, err := q.QueryContext(ctx,
		`SELECT id, library_id, COALESCE(parent_id, ''), name, created_at FROM folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("query folder: %w", err)
	}
	return scanFolders(rows, s)
}

func scanFolders(rows *sql.Rows, s *snapshot) error {
	defer rows.Close()
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.LibraryID, &f.ParentID, &f.Name, &f.CreatedAt); err != nil {
			return fmt.Errorf("scan folder: %w", err)
		}
		s.folders[f.ID] = f
	}
	return rows.Err()
}

func loadItems(ctx context.Context, q querier, s *snapshot, ids []string) error {
	defer timed("get_items")()
	rows, err := q.QueryContext(ctx,
		`SELECT id, title, extension, size, content_type, storage_key, modified_at FROM items WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Title, &it.Extension, &it.Size, &it.ContentType, &it.StorageKey, &it.ModifiedAt); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		s.items[it.ID] = it
	}
	return rows.Err()
}

func loadMemberships(ctx context.Context, q querier, s *snapshot, ids []string) error {
	defer timed("lock_memberships")()
	rows, err := q.QueryContext(ctx,
		`SELECT item_id, library_id, COALESCE(folder_id, ''), owner FROM memberships
		 WHERE item_id = ANY($1) ORDER BY item_id, library_id FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ItemID, &m.LibraryID, &m.FolderID, &m.Owner); err != nil {
			return fmt.Errorf("scan membership: %w", err)
		}
		s.memberships[m.ItemID] = append(s.memberships[m.ItemID], m)
	}
	return rows.Err()
}

package journal

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Repo manages rolling SQLite databases for journal events.
// Each DB is named journal-<unix_ms>.db and lives in dir.
type Repo struct {
	dir         string
	maxBytes    int64
	retainCount int

	// Active DB handle and path.
	activeDB   *sql.DB
	activePath string
}

// NewRepo creates a Repo that manages rolling journal databases.
// maxBytes controls when the active DB is rotated; retainCount sets how many
// historical DB files are kept.
func NewRepo(dir string, maxBytes int64, retainCount int) *Repo {
	if maxBytes <= 0 {
		maxBytes = 128 * 1024 * 1024 // 128 MB default
	}
	if retainCount <= 0 {
		retainCount = 5
	}
	return &Repo{
		dir:         dir,
		maxBytes:    maxBytes,
		retainCount: retainCount,
	}
}

// Open opens (or creates) the active journal database. If a previous DB
// exists in the directory it is reused as active; a new one is created only
// when no existing DB is found.
func (r *Repo) Open() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("journal repo mkdir %s: %w", r.dir, err)
	}

	files, err := r.listDBFiles()
	if err != nil {
		return fmt.Errorf("journal repo open: %w", err)
	}

	if len(files) > 0 {
		latest := files[len(files)-1]
		if err := r.openActive(latest); err != nil {
			return err
		}
		return r.cleanup()
	}
	return r.rotateDB()
}

// Close closes the active DB.
func (r *Repo) Close() error {
	if r.activeDB != nil {
		err := r.activeDB.Close()
		r.activeDB = nil
		r.activePath = ""
		return err
	}
	return nil
}

// InsertBatch inserts a batch of events in a single transaction. Returns the
// number of rows successfully inserted.
func (r *Repo) InsertBatch(events []Event) (int, error) {
	if r.activeDB == nil {
		return 0, fmt.Errorf("journal repo: no active db")
	}

	if err := r.maybeRotate(); err != nil {
		return 0, fmt.Errorf("journal repo rotate: %w", err)
	}

	tx, err := r.activeDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("journal repo begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO journal_events (
		id, ts_ns, kind, greenhouse_id, status, detail
	) VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("journal repo prepare: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range events {
		e := &events[i]
		if _, err := stmt.Exec(e.ID, e.TsNs, e.Kind, e.GreenhouseID, e.Status, e.Detail); err != nil {
			log.Printf("[journal] warning: skip event id=%q insert failed: %v", e.ID, err)
			continue // skip individual row errors
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("journal repo commit: %w", err)
	}
	return inserted, nil
}

// ListFilter specifies query filters for listing events.
type ListFilter struct {
	Kind         string
	GreenhouseID string
	Status       string
	Before       int64 // ts_ns < Before (0 means no upper bound)
	After        int64 // ts_ns > After (0 means no lower bound)
	Limit        int
	Offset       int
}

// List queries all retained DBs and returns matching events ordered by ts_ns
// DESC.
func (r *Repo) List(f ListFilter) ([]Event, error) {
	files, err := r.listDBFiles()
	if err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	// Fetch limit+offset rows from every retained DB, then globally merge.
	// File order alone is not enough: event ts_ns can lag the DB filename
	// time when a long sequence is flushed after a rotation.
	fetchLimit := limit + offset
	var results []Event
	for i := len(files) - 1; i >= 0; i-- {
		db, err := r.openReadOnly(files[i])
		if err != nil {
			log.Printf("[journal] warning: list open db failed path=%q: %v", files[i], err)
			continue
		}
		rows, err := r.queryEvents(db, f, fetchLimit)
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("[journal] warning: list close db failed path=%q: %v", files[i], closeErr)
		}
		if err != nil {
			log.Printf("[journal] warning: list query failed path=%q: %v", files[i], err)
			continue
		}
		results = append(results, rows...)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TsNs != results[j].TsNs {
			return results[i].TsNs > results[j].TsNs
		}
		return results[i].ID < results[j].ID
	})
	if offset >= len(results) {
		return nil, nil
	}
	results = results[offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// --- internal helpers ---

func (r *Repo) openActive(path string) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	if err := migrateDB(db); err != nil {
		db.Close()
		return err
	}
	r.activeDB = db
	r.activePath = path
	return nil
}

func (r *Repo) rotateDB() error {
	if r.activeDB != nil {
		r.activeDB.Close()
		r.activeDB = nil
	}
	name := fmt.Sprintf("journal-%d.db", time.Now().UnixMilli())
	path := filepath.Join(r.dir, name)
	if err := r.openActive(path); err != nil {
		return fmt.Errorf("journal rotate: %w", err)
	}
	return r.cleanup()
}

func (r *Repo) maybeRotate() error {
	if r.activePath == "" {
		return r.rotateDB()
	}
	totalSize, err := sqliteFilesSize(r.activePath)
	if err != nil {
		log.Printf("[journal] warning: stat active db failed path=%q: %v", r.activePath, err)
		return nil // can't stat; skip rotation check
	}
	if totalSize >= r.maxBytes {
		return r.rotateDB()
	}
	return nil
}

func (r *Repo) cleanup() error {
	files, err := r.listDBFiles()
	if err != nil {
		return err
	}
	// Keep retainCount most recent files (the active one is always latest).
	if len(files) <= r.retainCount {
		return nil
	}
	toRemove := files[:len(files)-r.retainCount]
	for _, f := range toRemove {
		os.Remove(f)
		os.Remove(f + "-wal")
		os.Remove(f + "-shm")
	}
	return nil
}

func (r *Repo) listDBFiles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("journal list dir %s: %w", r.dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "journal-") && strings.HasSuffix(name, ".db") {
			files = append(files, filepath.Join(r.dir, name))
		}
	}
	sort.Strings(files) // lexicographic sort == chronological for our naming
	return files, nil
}

func (r *Repo) openReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (r *Repo) queryEvents(db *sql.DB, f ListFilter, limit int) ([]Event, error) {
	var where []string
	var args []interface{}

	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.GreenhouseID != "" {
		where = append(where, "greenhouse_id = ?")
		args = append(args, f.GreenhouseID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Before > 0 {
		where = append(where, "ts_ns < ?")
		args = append(args, f.Before)
	}
	if f.After > 0 {
		where = append(where, "ts_ns > ?")
		args = append(args, f.After)
	}

	q := "SELECT id, ts_ns, kind, greenhouse_id, status, detail FROM journal_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY ts_ns DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TsNs, &e.Kind, &e.GreenhouseID, &e.Status, &e.Detail); err != nil {
			log.Printf("[journal] warning: skip malformed event row during scan: %v", err)
			continue
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// sqliteFilesSize returns the total size of a SQLite database set:
// base db file + optional -wal and -shm sidecar files.
func sqliteFilesSize(basePath string) (int64, error) {
	paths := []string{basePath, basePath + "-wal", basePath + "-shm"}
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

package webbridge

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// StorageService is the service name pages address persistent storage with.
const StorageService = "NativeStorage"

// StorageStore is the sqlite-backed key/value store behind the NativeStorage
// plugin. Values key on (namespace, key); namespaces keep sessions and
// plugins out of each other's data.
type StorageStore struct {
	db *sql.DB
}

// ValidateNamespace rejects namespaces that are empty, oversized, or carry
// path or null bytes.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if len(ns) > 128 {
		return fmt.Errorf("namespace too long")
	}
	if strings.Contains(ns, "..") {
		return fmt.Errorf("namespace contains path traversal")
	}
	if strings.ContainsAny(ns, "/\\") {
		return fmt.Errorf("namespace contains path separator")
	}
	if strings.ContainsRune(ns, 0) {
		return fmt.Errorf("namespace contains null byte")
	}
	return nil
}

// OpenStorage opens (or creates) the store at {dataDir}/storage/kv.sqlite3.
func OpenStorage(dataDir string) (*StorageStore, error) {
	dir := filepath.Join(dataDir, "storage")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "kv.sqlite3"))
	if err != nil {
		return nil, fmt.Errorf("opening storage database: %w", err)
	}
	// WAL keeps readers out of the writers' way.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return initStorage(db)
}

// OpenStorageMemory creates an in-memory store for testing.
func OpenStorageMemory() (*StorageStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory storage: %w", err)
	}
	return initStorage(db)
}

func initStorage(db *sql.DB) (*StorageStore, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		ns TEXT NOT NULL,
		k  TEXT NOT NULL,
		v  TEXT NOT NULL,
		PRIMARY KEY (ns, k)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}
	return &StorageStore{db: db}, nil
}

func (s *StorageStore) Set(ns, key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (ns, k, v) VALUES (?, ?, ?)
		 ON CONFLICT (ns, k) DO UPDATE SET v = excluded.v`,
		ns, key, value)
	return err
}

// Get returns the stored value and whether the key exists.
func (s *StorageStore) Get(ns, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT v FROM kv WHERE ns = ? AND k = ?`, ns, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *StorageStore) Remove(ns, key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE ns = ? AND k = ?`, ns, key)
	return err
}

func (s *StorageStore) Clear(ns string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE ns = ?`, ns)
	return err
}

func (s *StorageStore) Keys(ns string) ([]string, error) {
	rows, err := s.db.Query(`SELECT k FROM kv WHERE ns = ? ORDER BY k`, ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *StorageStore) Close() error {
	return s.db.Close()
}

// StoragePlugin exposes the store to pages as the NativeStorage service:
// setItem, getItem, removeItem, clear, and keys. The namespace comes from
// the StorageNamespace preference, "default" when unset.
type StoragePlugin struct {
	store *StorageStore
	ns    string
}

var _ Plugin = (*StoragePlugin)(nil)
var _ Executor = (*StoragePlugin)(nil)

func NewStoragePlugin(store *StorageStore) *StoragePlugin {
	return &StoragePlugin{store: store}
}

func (p *StoragePlugin) Initialize(env *PluginEnv) error {
	ns := env.Prefs.String("StorageNamespace", "default")
	if err := ValidateNamespace(ns); err != nil {
		return fmt.Errorf("StorageNamespace: %w", err)
	}
	p.ns = ns
	return nil
}

func (p *StoragePlugin) Exec(action string, args json.RawMessage, cb *CallbackContext) (bool, error) {
	list := parseExecArgs(args)
	switch action {
	case "setItem":
		key := list.String(0)
		if key == "" {
			cb.Error("key required")
			return true, nil
		}
		if err := p.store.Set(p.ns, key, list.String(1)); err != nil {
			cb.Send(NewStringResult(StatusIOError, err.Error()))
			return true, nil
		}
		cb.Success(nil)
	case "getItem":
		key := list.String(0)
		if key == "" {
			cb.Error("key required")
			return true, nil
		}
		v, ok, err := p.store.Get(p.ns, key)
		if err != nil {
			cb.Send(NewStringResult(StatusIOError, err.Error()))
			return true, nil
		}
		if !ok {
			cb.Send(NewNullResult(StatusOK))
			return true, nil
		}
		cb.Success(v)
	case "removeItem":
		key := list.String(0)
		if key == "" {
			cb.Error("key required")
			return true, nil
		}
		if err := p.store.Remove(p.ns, key); err != nil {
			cb.Send(NewStringResult(StatusIOError, err.Error()))
			return true, nil
		}
		cb.Success(nil)
	case "clear":
		if err := p.store.Clear(p.ns); err != nil {
			cb.Send(NewStringResult(StatusIOError, err.Error()))
			return true, nil
		}
		cb.Success(nil)
	case "keys":
		keys, err := p.store.Keys(p.ns)
		if err != nil {
			cb.Send(NewStringResult(StatusIOError, err.Error()))
			return true, nil
		}
		if keys == nil {
			keys = []string{}
		}
		cb.Success(keys)
	default:
		return false, nil
	}
	return true, nil
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dirName  = ".taskflow"
	fileName = "taskflow.db"

	defaultBusyTimeout = 5 * time.Second
)

// Config locates the store. Workspace is the directory holding .taskflow/.
type Config struct {
	Workspace   string
	BusyTimeout time.Duration
}

// Dir returns the data directory of a workspace.
func Dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName)
}

// Path returns the database file of a workspace.
func Path(workspace string) string {
	return filepath.Join(Dir(workspace), fileName)
}

// EnsureWorkspace creates the data directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	dir := Dir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return dir, nil
}

func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		path, busy.Milliseconds())
}

// Open opens the workspace database and checks it is reachable. Heartbeats
// from several emitters write concurrently, so writers wait on the busy
// timeout instead of failing with SQLITE_BUSY.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	path := Path(cfg.Workspace)
	conn, err := sql.Open("sqlite", dsn(path, busy))
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return conn, nil
}

// Size reports the database file size in bytes, 0 when it does not exist yet.
func Size(workspace string) (int64, error) {
	fi, err := os.Stat(Path(workspace))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// setupTestDB 创建临时测试数据库
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	// 与生产配置一致：WAL + busy_timeout
	_, err = db.Exec("PRAGMA journal_mode=WAL;")
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA busy_timeout=5000;")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

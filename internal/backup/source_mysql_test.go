package backup

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedMySQLSource(t *testing.T) (*MySQLDumpSource, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	source := NewMySQLDumpSource("orders", "user:pass@tcp(localhost:3306)/orders")
	source.openDB = func() (*sql.DB, error) { return db, nil }
	return source, mock
}

func TestMySQLDumpSource_DumpsSchemaAndRows(t *testing.T) {
	source, mock := newMockedMySQLSource(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).AddRow("orders"))
	mock.ExpectQuery("SHOW CREATE TABLE `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("orders", "CREATE TABLE `orders` (\n  `id` int NOT NULL\n)"))
	mock.ExpectQuery("SELECT \\* FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).
			AddRow("1", "first").
			AddRow("2", nil))

	r, err := source.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()

	dump, err := io.ReadAll(r)
	require.NoError(t, err)

	text := string(dump)
	assert.Contains(t, text, "-- dump of source orders")
	assert.Contains(t, text, "DROP TABLE IF EXISTS `orders`;")
	assert.Contains(t, text, "CREATE TABLE `orders`")
	assert.Contains(t, text, "INSERT INTO `orders` VALUES ('1', 'first');")
	assert.Contains(t, text, "INSERT INTO `orders` VALUES ('2', NULL);")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDumpSource_EmptySchema(t *testing.T) {
	source, mock := newMockedMySQLSource(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}))

	r, err := source.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()

	dump, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(dump), "-- dump of source orders")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLDumpSource_QueryErrorSurfacesOnRead(t *testing.T) {
	source, mock := newMockedMySQLSource(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES").
		WillReturnError(sql.ErrConnDone)

	r, err := source.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()

	_, err = io.ReadAll(r)
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrorTypeSourceRead))
}

func TestMySQLDumpSource_EscapesLiterals(t *testing.T) {
	assert.Equal(t, "NULL", sqlLiteral(nil))
	assert.Equal(t, `'plain'`, sqlLiteral(sql.RawBytes("plain")))
	assert.Equal(t, `'it\'s'`, sqlLiteral(sql.RawBytes("it's")))
	assert.Equal(t, `'a\\b'`, sqlLiteral(sql.RawBytes(`a\b`)))
}

func TestNewSource_TypeSelection(t *testing.T) {
	fileSource, err := NewSource(SourceConfig{ID: "dump", Type: "file", Path: "/tmp/dump.sql"})
	require.NoError(t, err)
	assert.Equal(t, "dump", fileSource.ID())
	_, ok := fileSource.(*FileSource)
	assert.True(t, ok)

	mysqlSource, err := NewSource(SourceConfig{ID: "orders", Type: "mysql", DSN: "user@tcp(db:3306)/orders"})
	require.NoError(t, err)
	_, ok = mysqlSource.(*MySQLDumpSource)
	assert.True(t, ok)

	_, err = NewSource(SourceConfig{ID: "bad", Type: "postgres"})
	assert.Error(t, err)
}

func TestFileSource_StreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;\n"), 0644))

	source := NewFileSource("dump", path)
	r, err := source.Open(context.Background())
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", string(out))
}

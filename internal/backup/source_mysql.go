package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLDumpSource streams a logical dump of a MySQL schema: one CREATE TABLE
// statement per table followed by its rows as INSERT statements. The dump is
// produced through a pipe so the artifact pipeline consumes it without the
// whole dump ever being buffered.
type MySQLDumpSource struct {
	id  string
	dsn string

	// openDB overrides connection setup in tests
	openDB func() (*sql.DB, error)
}

// NewMySQLDumpSource creates a source dumping the schema behind dsn
func NewMySQLDumpSource(id, dsn string) *MySQLDumpSource {
	return &MySQLDumpSource{id: id, dsn: dsn}
}

// ID returns the source identifier
func (ms *MySQLDumpSource) ID() string {
	return ms.id
}

// Open connects to the database and starts the dump
func (ms *MySQLDumpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	var db *sql.DB
	var err error
	if ms.openDB != nil {
		db, err = ms.openDB()
	} else {
		db, err = sql.Open("mysql", ms.dsn)
	}
	if err != nil {
		return nil, NewSourceReadError("failed to open database connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewSourceReadError("failed to connect to database", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer db.Close()
		err := ms.dump(ctx, db, pw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (ms *MySQLDumpSource) dump(ctx context.Context, db *sql.DB, w io.Writer) error {
	fmt.Fprintf(w, "-- dump of source %s at %s\n\n", ms.id, time.Now().UTC().Format(time.RFC3339))

	tables, err := ms.listTables(ctx, db)
	if err != nil {
		return err
	}

	for _, table := range tables {
		if err := ms.dumpTableDDL(ctx, db, w, table); err != nil {
			return err
		}
		if err := ms.dumpTableRows(ctx, db, w, table); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MySQLDumpSource) listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME")
	if err != nil {
		return nil, NewSourceReadError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, NewSourceReadError("failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, NewSourceReadError("failed to iterate tables", err)
	}
	return tables, nil
}

func (ms *MySQLDumpSource) dumpTableDDL(ctx context.Context, db *sql.DB, w io.Writer, table string) error {
	var name, ddl string
	row := db.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`", table))
	if err := row.Scan(&name, &ddl); err != nil {
		return NewSourceReadError(fmt.Sprintf("failed to read DDL for table %s", table), err)
	}
	fmt.Fprintf(w, "DROP TABLE IF EXISTS `%s`;\n%s;\n\n", table, ddl)
	return nil
}

func (ms *MySQLDumpSource) dumpTableRows(ctx context.Context, db *sql.DB, w io.Writer, table string) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", table))
	if err != nil {
		return NewSourceReadError(fmt.Sprintf("failed to read rows from table %s", table), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return NewSourceReadError(fmt.Sprintf("failed to read columns of table %s", table), err)
	}

	values := make([]sql.RawBytes, len(columns))
	scanArgs := make([]interface{}, len(values))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return NewSourceReadError("dump cancelled", err)
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return NewSourceReadError(fmt.Sprintf("failed to scan row from table %s", table), err)
		}

		literals := make([]string, len(values))
		for i, value := range values {
			literals[i] = sqlLiteral(value)
		}
		fmt.Fprintf(w, "INSERT INTO `%s` VALUES (%s);\n", table, strings.Join(literals, ", "))
	}
	if err := rows.Err(); err != nil {
		return NewSourceReadError(fmt.Sprintf("failed to iterate rows of table %s", table), err)
	}
	fmt.Fprintln(w)
	return nil
}

// sqlLiteral renders a raw column value as a SQL literal
func sqlLiteral(value sql.RawBytes) string {
	if value == nil {
		return "NULL"
	}
	escaped := strings.ReplaceAll(string(value), `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	return "'" + escaped + "'"
}

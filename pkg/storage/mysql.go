package storage

import (
	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLBackend opens a SQLBackend against a MySQL-compatible server. dsn
// is in the format the go-sql-driver/mysql package expects, e.g.
// "user:pass@tcp(127.0.0.1:3306)/syncstorage?parseTime=true".
func NewMySQLBackend(dsn string) (*SQLBackend, error) {
	return openSQLBackend("mysql", dsn, mysqlDialect)
}

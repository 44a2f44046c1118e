package database

import (
	"fmt"
	"net/url"
	"strings"

	dbopts "github.com/kart-io/sentinel-rag/pkg/options/database"
)

// MySQLDSN 生成 MySQL DSN：username:password@tcp(host:port)/database?params。
// 密码经过转义，包含 @ / : 等字符时不会破坏 DSN 解析。
func MySQLDSN(opts *dbopts.Options) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		opts.Username,
		url.QueryEscape(opts.Password),
		opts.Host,
		opts.Port,
		opts.Database,
	)
}

// PostgresDSN 生成 key=value 形式的 PostgreSQL DSN。
func PostgresDSN(opts *dbopts.Options) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		opts.Host,
		opts.Port,
		opts.Username,
		escapePostgresValue(opts.Password),
		opts.Database,
		opts.SSLMode,
	)
}

// SQLiteDSN 生成 sqlite 连接串，开启外键与 WAL。
func SQLiteDSN(opts *dbopts.Options) string {
	if opts.Path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(1)"
	}
	return "file:" + opts.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// escapePostgresValue 含空格、引号或反斜杠的值用单引号包裹并转义。
func escapePostgresValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}

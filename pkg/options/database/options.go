// Package database provides relational metadata database options.
package database

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 支持的数据库驱动。
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Options 元数据库配置。sqlite 为默认驱动，无需外部服务。
type Options struct {
	// Driver 数据库驱动（sqlite|mysql|postgres）。
	Driver string `json:"driver" mapstructure:"driver"`

	// Path sqlite 数据文件路径，":memory:" 表示内存库。
	Path string `json:"path" mapstructure:"path"`

	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`

	// SSLMode 仅 postgres 使用。
	SSLMode string `json:"ssl-mode" mapstructure:"ssl-mode"`

	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`

	// LogLevel gorm 日志级别：1 Silent, 2 Error, 3 Warn, 4 Info。
	LogLevel int `json:"log-level" mapstructure:"log-level"`

	// SlowThreshold 慢查询阈值。
	SlowThreshold time.Duration `json:"slow-threshold" mapstructure:"slow-threshold"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Driver:                DriverSQLite,
		Path:                  "_output/rag-data/meta.db",
		Host:                  "127.0.0.1",
		SSLMode:               "disable",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: 10 * time.Minute,
		LogLevel:              2,
		SlowThreshold:         200 * time.Millisecond,
	}
}

// AddFlags adds flags for database options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "database."
	fs.StringVar(&o.Driver, p+"driver", o.Driver, "Metadata database driver (sqlite|mysql|postgres).")
	fs.StringVar(&o.Path, p+"path", o.Path, "SQLite database file, ':memory:' for an in-memory database.")
	fs.StringVar(&o.Host, p+"host", o.Host, "Database host (mysql|postgres).")
	fs.IntVar(&o.Port, p+"port", o.Port, "Database port, 0 uses the driver default.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Database username.")
	fs.StringVar(&o.Password, p+"password", o.Password, "Database password (prefer the DATABASE_PASSWORD env var).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Database name.")
	fs.StringVar(&o.SSLMode, p+"ssl-mode", o.SSLMode, "PostgreSQL SSL mode.")
	fs.IntVar(&o.MaxIdleConnections, p+"max-idle-connections", o.MaxIdleConnections, "Maximum idle connections.")
	fs.IntVar(&o.MaxOpenConnections, p+"max-open-connections", o.MaxOpenConnections, "Maximum open connections.")
	fs.DurationVar(&o.MaxConnectionLifeTime, p+"max-connection-life-time", o.MaxConnectionLifeTime, "Maximum connection lifetime.")
	fs.IntVar(&o.LogLevel, p+"log-level", o.LogLevel, "GORM log level (1 silent, 2 error, 3 warn, 4 info).")
	fs.DurationVar(&o.SlowThreshold, p+"slow-threshold", o.SlowThreshold, "Slow query threshold.")
}

// Complete 补全驱动默认端口，并从环境变量读取密码。
func (o *Options) Complete() error {
	if o.Password == "" {
		o.Password = os.Getenv("DATABASE_PASSWORD")
	}
	if o.Port == 0 {
		switch o.Driver {
		case DriverMySQL:
			o.Port = 3306
		case DriverPostgres:
			o.Port = 5432
		}
	}
	return nil
}

// Validate validates the database options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Driver {
	case DriverSQLite:
		if o.Path == "" {
			errs = append(errs, fmt.Errorf("database.path is required for sqlite"))
		}
	case DriverMySQL, DriverPostgres:
		if o.Host == "" {
			errs = append(errs, fmt.Errorf("database.host is required for %s", o.Driver))
		}
		if o.Database == "" {
			errs = append(errs, fmt.Errorf("database.database is required for %s", o.Driver))
		}
		if o.Port < 0 || o.Port > 65535 {
			errs = append(errs, fmt.Errorf("database.port %d out of range", o.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database.driver %q", o.Driver))
	}
	if o.LogLevel < 1 || o.LogLevel > 4 {
		errs = append(errs, fmt.Errorf("database.log-level must be within [1, 4]"))
	}
	return errs
}

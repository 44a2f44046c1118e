// Package store provides reusable gorm query options.
package store

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultLimit = -1

// Query is a raw where condition with its arguments.
type Query struct {
	Query interface{}
	Args  []interface{}
}

// Options holds the conditions applied by Where.
type Options struct {
	// Offset defines the beginning of the result set, -1 disables it.
	Offset int `json:"offset"`
	// Limit defines the maximum number of rows, -1 disables it.
	Limit int `json:"limit"`
	// Filters are equality conditions keyed by column.
	Filters map[interface{}]interface{}
	// Clauses are appended to the statement as is.
	Clauses []clause.Expression
	// Queries are raw where conditions.
	Queries []Query
}

// Option mutates Options.
type Option func(*Options)

// WithOffset sets the offset.
func WithOffset(offset int64) Option {
	return func(o *Options) {
		if offset < 0 {
			offset = 0
		}
		o.Offset = int(offset)
	}
}

// WithLimit sets the limit.
func WithLimit(limit int64) Option {
	return func(o *Options) {
		if limit <= 0 {
			limit = defaultLimit
		}
		o.Limit = int(limit)
	}
}

// WithPage converts page and page size into offset and limit.
func WithPage(page int, pageSize int) Option {
	return func(o *Options) {
		if page <= 0 {
			page = 1
		}
		if pageSize <= 0 {
			pageSize = defaultLimit
		}
		o.Offset = (page - 1) * pageSize
		o.Limit = pageSize
	}
}

// WithFilter adds equality conditions.
func WithFilter(filter map[interface{}]interface{}) Option {
	return func(o *Options) {
		for k, v := range filter {
			o.Filters[k] = v
		}
	}
}

// WithClauses appends clauses.
func WithClauses(conds ...clause.Expression) Option {
	return func(o *Options) {
		o.Clauses = append(o.Clauses, conds...)
	}
}

// NewWhere builds Options from opts.
func NewWhere(opts ...Option) *Options {
	o := &Options{
		Offset:  0,
		Limit:   defaultLimit,
		Filters: map[interface{}]interface{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// F is shorthand for NewWhere().F(kvs...).
func F(kvs ...interface{}) *Options {
	return NewWhere().F(kvs...)
}

// F adds key/value equality filters. An odd trailing key is ignored.
func (o *Options) F(kvs ...interface{}) *Options {
	for i := 0; i+1 < len(kvs); i += 2 {
		o.Filters[kvs[i]] = kvs[i+1]
	}
	return o
}

// Q adds a raw where condition.
func (o *Options) Q(query interface{}, args ...interface{}) *Options {
	o.Queries = append(o.Queries, Query{Query: query, Args: args})
	return o
}

// P sets page and page size.
func (o *Options) P(page int, pageSize int) *Options {
	WithPage(page, pageSize)(o)
	return o
}

// Where applies the options to db.
func (o *Options) Where(db *gorm.DB) *gorm.DB {
	for _, q := range o.Queries {
		db = db.Where(q.Query, q.Args...)
	}
	if len(o.Filters) > 0 {
		db = db.Where(o.Filters)
	}
	if len(o.Clauses) > 0 {
		db = db.Clauses(o.Clauses...)
	}
	return db.Offset(o.Offset).Limit(o.Limit)
}

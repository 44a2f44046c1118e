// Package pool runs background indexing work on an ants worker pool and
// keeps submission statistics for the stats endpoint.
package pool

import "errors"

var (
	// ErrPoolClosed 池已释放，不再接受任务。
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrInvalidConfig 容量必须为正数。
	ErrInvalidConfig = errors.New("invalid worker pool config")
	// ErrPoolOverload 非阻塞池已满。
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

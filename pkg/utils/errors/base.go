package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	// OK is the success errno.
	OK = &Errno{Code: 0, HTTP: http.StatusOK, GRPCCode: codes.OK, MessageEN: "success", MessageZH: "成功"}

	ErrInvalidParam = NewRequestErr(ServiceCommon, 1, "Invalid parameter", "参数无效")
	ErrBindFailed   = NewRequestErr(ServiceCommon, 2, "Failed to parse request body", "请求体解析失败")
	ErrNotFound     = NewNotFoundErr(ServiceCommon, 1, "Resource not found", "资源不存在")
	ErrInternal     = NewInternalErr(ServiceCommon, 1, "Internal server error", "服务器内部错误")
	ErrDatabase     = NewDatabaseErr(ServiceCommon, 1, "Database error", "数据库错误")
	ErrCache        = NewCacheErr(ServiceCommon, 1, "Cache error", "缓存错误")
	ErrTimeout      = NewTimeoutErr(ServiceCommon, 1, "Request timeout", "请求超时")
	ErrPanic        = NewInternalErr(ServiceCommon, 2, "Internal server panic", "服务内部异常")

	// ErrBodyTooLarge 请求体超过 http.max-body-bytes。
	ErrBodyTooLarge = newErr(ServiceCommon, CategoryRequest, 3, http.StatusRequestEntityTooLarge, codes.InvalidArgument,
		"Request body too large", "请求体过大")
	ErrRouteNotFound = NewNotFoundErr(ServiceCommon, 2, "Route not found", "路由不存在")
)

package errcode

import "net/http"

// 错误码约定：
// - 0：无错误
// - 4xxx：请求方可修正的错误，前三位与 HTTP 状态码一致
// - 5xxx：系统错误
const (
	OK              = 0
	InvalidRequest  = 4000
	Unauthorized    = 4010
	Forbidden       = 4030
	NotFound        = 4040
	Conflict        = 4090
	Protected       = 4091
	PayloadTooLarge = 4130
	UnsupportedType = 4150
	Validation      = 4220
	Infected        = 4221
	RateLimited     = 4290
	SystemError     = 5000
	Unavailable     = 5030
)

// ForStatus 返回 HTTP 状态码对应的默认错误码。
func ForStatus(status int) int {
	switch status {
	case http.StatusBadRequest:
		return InvalidRequest
	case http.StatusUnauthorized:
		return Unauthorized
	case http.StatusForbidden:
		return Forbidden
	case http.StatusNotFound:
		return NotFound
	case http.StatusConflict:
		return Conflict
	case http.StatusRequestEntityTooLarge:
		return PayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return UnsupportedType
	case http.StatusUnprocessableEntity:
		return Validation
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusServiceUnavailable:
		return Unavailable
	}
	if status >= 500 {
		return SystemError
	}
	if status >= 400 {
		return InvalidRequest
	}
	return OK
}

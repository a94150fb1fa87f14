package backend

import (
	"errors"
	"fmt"
)

// ErrUnauthorized 会话过期（HTTP 401 或 code=60401）
var ErrUnauthorized = errors.New("backend: unauthorized")

// ErrorKind 失败类别
type ErrorKind string

const (
	KindNetwork ErrorKind = "network" // 请求未得到响应
	KindServer  ErrorKind = "server"  // 服务端返回错误状态或错误码
)

// Error 后端请求失败
type Error struct {
	Kind    ErrorKind
	Status  int // HTTP 状态码，网络错误时为 0
	Code    int // 响应包中的 code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindNetwork && e.Err != nil:
		return fmt.Sprintf("backend network error: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("backend %s error: status=%d code=%d: %s", e.Kind, e.Status, e.Code, e.Message)
	default:
		return fmt.Sprintf("backend %s error: status=%d code=%d", e.Kind, e.Status, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

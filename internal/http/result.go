package httpapi

// Result 统一响应包，与前端 axios 拦截器约定一致
// - code: 2000 成功；-1 失败；60401 会话过期
// - type: 'success' | 'error' | 'warning'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	// ResultTokenExpired 配合 HTTP 401 使用（前端拦截器会跳转登录）
	ResultTokenExpired = 60401
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// FailWith 失败并附带结构化信息
func FailWith(code int, message string, detail any) Result[any] {
	return Result[any]{Code: code, Type: "error", Message: message, Result: detail}
}

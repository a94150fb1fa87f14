package mutation

import (
	"context"
	"errors"
	"fmt"

	"owl-care/internal/backend"
	"owl-care/internal/resources"
	"owl-care/internal/store"
)

var (
	// ErrSessionExpired 会话过期，属于终止条件，不回退到普通错误提示，也不重试
	ErrSessionExpired = errors.New("session expired")
	// ErrReconciliationConflict 响应到达时本地记录已不存在（如创建途中被删除），响应被丢弃
	ErrReconciliationConflict = errors.New("reconciliation conflict: record no longer exists locally")
	// ErrRecordNotFound 指定的记录不在当前集合中
	ErrRecordNotFound = errors.New("record not found")
)

// ValidationError 本地前置条件不满足：没有发出请求，也没有修改任何状态
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ErrorKind 请求失败类别
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindServer  ErrorKind = "server"
)

// RequestError 网络或服务端失败：本地状态已回滚，用户可以重新编辑
type RequestError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Retryable 失败的修改都可以由用户手动重试
func (e *RequestError) Retryable() bool { return true }

func validationFrom(field string, err error) *ValidationError {
	var fe *resources.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Field: fe.Field, Message: fe.Message, Err: err}
	}
	switch {
	case errors.Is(err, store.ErrScopeNotLoaded):
		return &ValidationError{Field: field, Message: "scope not loaded", Err: err}
	case errors.Is(err, ErrRecordNotFound):
		return &ValidationError{Field: field, Message: "record not found", Err: err}
	}
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

// classify 把后端/上下文错误转换为本包的错误类型，原始错误不会直接交给展示层
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, backend.ErrUnauthorized) {
		return ErrSessionExpired
	}
	if errors.Is(err, ErrReconciliationConflict) {
		return ErrReconciliationConflict
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re
	}
	var be *backend.Error
	if errors.As(err, &be) {
		kind := KindServer
		if be.Kind == backend.KindNetwork {
			kind = KindNetwork
		}
		msg := be.Message
		if msg == "" {
			msg = be.Error()
		}
		return &RequestError{Kind: kind, Status: be.Status, Message: msg, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &RequestError{Kind: KindNetwork, Message: err.Error(), Err: err}
	}
	return &RequestError{Kind: KindServer, Message: err.Error(), Err: err}
}

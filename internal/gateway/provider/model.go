package provider

import (
	"context"
	"errors"
	"fmt"
)

// ChatPayload 是一次推理调用的输入；Purpose 只用于日志标记。
type ChatPayload struct {
	System  string
	User    string
	Model   string
	Purpose string
}

// ModelProvider 抽象一个推理后端（claude CLI 子进程或 OpenAI 兼容接口）。
type ModelProvider interface {
	ID() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// ErrorKind 区分超时与其它调用失败。
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindProcess ErrorKind = "process"
)

// CallError 是推理调用的类型化错误。
type CallError struct {
	Provider string
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// KindOf 返回错误的类型；无法识别的错误视为 process。
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindProcess
}

func timeoutError(provider string, err error) *CallError {
	return &CallError{Provider: provider, Kind: KindTimeout, Message: "deadline exceeded", Err: err}
}

func processError(provider, msg string, err error) *CallError {
	return &CallError{Provider: provider, Kind: KindProcess, Message: msg, Err: err}
}

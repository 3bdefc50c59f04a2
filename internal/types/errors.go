package types

import (
	"errors"
	"fmt"
)

// ErrTag 是对调用方可见的机器可读失败标签。
type ErrTag string

const (
	TagMalformedConfiguration ErrTag = "MalformedConfiguration"
	TagInvalidProposal        ErrTag = "InvalidProposal"
	TagEvaluationAborted      ErrTag = "EvaluationAborted"
	TagAllSpecialistsFailed   ErrTag = "AllSpecialistsFailed"
	TagSynthesisFailed        ErrTag = "SynthesisFailed"
)

// 失败原因；specialist 与 synthesizer 共用前三项。
const (
	ReasonCacheUnavailable  = "CacheUnavailable"
	ReasonTimeout           = "Timeout"
	ReasonProcessError      = "ProcessError"
	ReasonUnparseableOutput = "UnparseableOutput"
	ReasonOutOfRange        = "OutOfRange"
)

var (
	// ErrCacheUnavailable 表示持久层无法访问（I/O 失败）。
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrMalformedConfiguration 表示启动配置不合法。
	ErrMalformedConfiguration = errors.New("malformed configuration")
)

// EvaluationError 是一次评估的终止性失败，不会伴随任何决策输出。
type EvaluationError struct {
	Tag     ErrTag `json:"tag"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func NewEvaluationError(tag ErrTag, reason, message string, cause error) *EvaluationError {
	return &EvaluationError{Tag: tag, Reason: reason, Message: message, Err: cause}
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s{%s}: %s", e.Tag, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsEvaluationError 将任意错误归一为 EvaluationError；未识别的错误按 EvaluationAborted 处理。
func AsEvaluationError(err error) *EvaluationError {
	if err == nil {
		return nil
	}
	var ee *EvaluationError
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, ErrMalformedConfiguration):
		return NewEvaluationError(TagMalformedConfiguration, "", err.Error(), err)
	case errors.Is(err, ErrCacheUnavailable):
		return NewEvaluationError(TagEvaluationAborted, ReasonCacheUnavailable, err.Error(), err)
	}
	return NewEvaluationError(TagEvaluationAborted, "", err.Error(), err)
}

// ErrorEnvelope 是失败时输出的 JSON 结构。
type ErrorEnvelope struct {
	Error *EvaluationError `json:"error"`
}

package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// decimal 按浮点参与 gt/lt 等比较
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// ValidateProposal 校验提案结构，失败时返回 InvalidProposal。
func ValidateProposal(p TradeProposal) error {
	p.Symbol = strings.TrimSpace(p.Symbol)
	if err := validate.Struct(p); err != nil {
		return NewEvaluationError(TagInvalidProposal, "", describeValidation(err), err)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "TradeProposal.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s 不满足 %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s 不满足 %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

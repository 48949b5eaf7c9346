package tasks

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"FilingRadar/pkg/edgar"
	"FilingRadar/pkg/errs"
	"FilingRadar/pkg/model"
)

// filingCheck 处理前需要满足的字段约束
type filingCheck struct {
	AccessionNumber string    `validate:"required,accession"`
	CompanyID       string    `validate:"required"`
	FilingType      string    `validate:"required,filing_type"`
	FilingDate      time.Time `validate:"required,not_future"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("accession", func(fl validator.FieldLevel) bool {
		return edgar.ValidAccession(fl.Field().String())
	})
	_ = v.RegisterValidation("filing_type", func(fl validator.FieldLevel) bool {
		ft := model.FilingType(fl.Field().String())
		return ft != model.FilingTypeUnknown && model.ParseFilingType(string(ft)) == ft
	})
	_ = v.RegisterValidation("not_future", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.After(time.Now().Add(24*time.Hour))
	})
	return v
}

// Validate 校验filing属性，失败返回ValidationError
func Validate(f *model.Filing) error {
	err := validate.Struct(filingCheck{
		AccessionNumber: f.AccessionNumber,
		CompanyID:       f.CompanyID,
		FilingType:      string(f.FilingType),
		FilingDate:      f.FilingDate,
	})
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		reasons := make([]string, 0, len(fieldErrs))
		for _, e := range fieldErrs {
			reasons = append(reasons, e.Field()+":"+e.Tag())
		}
		return errs.Validation(fe.Field(), strings.Join(reasons, ", "))
	}
	return errs.Validation("", err.Error())
}

package assignment

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/guni/lms/core"
)

var (
	kindTag  = "assignment_kind"
	kindText = "kind must be one of: " + strings.Join(Kinds, ", ")

	requiredWithoutTag  = "required_without"
	requiredWithoutText = "one of content or file_url is required"
)

// InitValidators registers the assignment validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(kindTag, kindValidation)
	core.RegisterCustomTranslation(validate, translator, kindTag, kindText)
	core.RegisterCustomTranslation(validate, translator, requiredWithoutTag, requiredWithoutText, true)
}

func kindValidation(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

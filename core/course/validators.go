package course

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/guni/lms/core"
)

var (
	materialKindTag  = "material_kind"
	materialKindText = "kind must be one of: " + strings.Join(MaterialKinds, ", ")
)

// InitValidators registers the course validators & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(materialKindTag, materialKindValidation)
	core.RegisterCustomTranslation(validate, translator, materialKindTag, materialKindText)
}

func materialKindValidation(fl validator.FieldLevel) bool {
	kind := fl.Field().String()
	for _, k := range MaterialKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// normalizeCode upper-cases a course code and drops inner whitespace: " cs 101 " -> "CS101".
func normalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}

package validator

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

func (v *Validator) registerCustomTranslations() {
	strategies := strings.Join(ChunkStrategies, ", ")

	v.registerTranslations(v.trans[LangEN], map[string]string{
		TagResourceID:    "{0} must start with a letter or digit and contain only letters, digits, '.', '_', ':' or '-' (at most 64 characters)",
		TagChunkStrategy: "{0} must be one of [" + strategies + "]",
		TagTrimmed:       "{0} must not have leading or trailing spaces",
	})
	v.registerTranslations(v.trans[LangZH], map[string]string{
		TagResourceID:    "{0}必须以字母或数字开头，只能包含字母、数字、'.'、'_'、':'和'-'（最多64个字符）",
		TagChunkStrategy: "{0}必须是[" + strategies + "]中的一个",
		TagTrimmed:       "{0}不能有前导或尾随空格",
	})
}

func (v *Validator) registerTranslations(trans ut.Translator, messages map[string]string) {
	for tag, message := range messages {
		_ = v.validate.RegisterTranslation(tag, trans,
			func(ut ut.Translator) error {
				return ut.Add(tag, message, true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, _ := ut.T(fe.Tag(), fe.Field())
				return t
			},
		)
	}
}

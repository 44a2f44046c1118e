// Package validator wires go-playground/validator into gin request binding.
// It adds the RAG identifier and chunking rules and translates failures into
// English or Chinese messages that match the Errno language handling.
package validator

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// Language constants for i18n support.
const (
	LangEN = "en"
	LangZH = "zh"
)

// TagName 与 gin 默认校验器一致，模型上使用 binding 标签。
const TagName = "binding"

var _ binding.StructValidator = (*Validator)(nil)

// Validator wraps go-playground/validator with translations and custom rules.
type Validator struct {
	validate *validator.Validate
	trans    map[string]ut.Translator
}

var (
	globalValidator *Validator
	once            sync.Once
)

// Global returns the process-wide validator, created on first use.
func Global() *Validator {
	once.Do(func() {
		globalValidator = New()
	})
	return globalValidator
}

// InstallGin 让 gin 的 ShouldBind 系列方法使用全局校验器。
func InstallGin() {
	binding.Validator = Global()
}

// New creates a Validator with en/zh translations and the custom rules registered.
func New() *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		trans:    make(map[string]ut.Translator, 2),
	}
	v.validate.SetTagName(TagName)

	// 错误中的字段名使用 json 标签
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale, zh.New())

	enTrans, _ := uni.GetTranslator(LangEN)
	_ = en_translations.RegisterDefaultTranslations(v.validate, enTrans)
	v.trans[LangEN] = enTrans

	zhTrans, _ := uni.GetTranslator(LangZH)
	_ = zh_translations.RegisterDefaultTranslations(v.validate, zhTrans)
	v.trans[LangZH] = zhTrans

	v.registerCustomRules()
	v.registerCustomTranslations()
	return v
}

// ValidateStruct implements binding.StructValidator. Slices are validated element by element.
func (v *Validator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	value := reflect.ValueOf(obj)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}

	switch value.Kind() {
	case reflect.Struct:
		return v.validate.Struct(value.Interface())
	case reflect.Slice, reflect.Array:
		var errs validator.ValidationErrors
		for i := 0; i < value.Len(); i++ {
			err := v.ValidateStruct(value.Index(i).Interface())
			if err == nil {
				continue
			}
			var ve validator.ValidationErrors
			if !stderrors.As(err, &ve) {
				return err
			}
			errs = append(errs, ve...)
		}
		if len(errs) > 0 {
			return errs
		}
	}
	return nil
}

// Engine implements binding.StructValidator.
func (v *Validator) Engine() any {
	return v.validate
}

// Var validates a single value against a tag expression.
func (v *Validator) Var(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// Translator returns the translator for lang, falling back to English.
// "zh-CN" 等区域写法按主语言匹配。
func (v *Validator) Translator(lang string) ut.Translator {
	lang = strings.ToLower(lang)
	if strings.HasPrefix(lang, LangZH) {
		return v.trans[LangZH]
	}
	return v.trans[LangEN]
}

// Translate converts a validation failure into translated field errors.
// It returns nil when err is not a validation failure.
func (v *Validator) Translate(err error, lang string) *ValidationErrors {
	var ve validator.ValidationErrors
	if !stderrors.As(err, &ve) {
		return nil
	}

	trans := v.Translator(lang)
	result := &ValidationErrors{Errors: make([]FieldError, 0, len(ve))}
	for _, fe := range ve {
		result.Errors = append(result.Errors, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(trans),
		})
	}
	return result
}

// Translate uses the global validator.
func Translate(err error, lang string) *ValidationErrors {
	return Global().Translate(err, lang)
}

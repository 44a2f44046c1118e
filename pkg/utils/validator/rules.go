package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Custom validation tags
const (
	// TagResourceID 知识库、文档等资源标识：字母或数字开头，最长 64 个字符。
	TagResourceID = "resourceid"
	// TagChunkStrategy 分块策略名称。
	TagChunkStrategy = "chunkstrategy"
	// TagTrimmed 字符串不能有首尾空白。
	TagTrimmed = "trimmed"
)

// ChunkStrategies lists the accepted chunking strategy names.
var ChunkStrategies = []string{"auto", "whitespace", "semantic", "fixed"}

var resourceIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,63}$`)

func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagResourceID, validateResourceID)
	_ = v.validate.RegisterValidation(TagChunkStrategy, validateChunkStrategy)
	_ = v.validate.RegisterValidation(TagTrimmed, validateTrimmed)
}

func validateResourceID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return resourceIDRegex.MatchString(value)
}

func validateChunkStrategy(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	for _, s := range ChunkStrategies {
		if value == s {
			return true
		}
	}
	return false
}

func validateTrimmed(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == strings.TrimSpace(value)
}

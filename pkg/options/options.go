// Package options defines the option section contract shared by every
// configuration block of the RAG server.
package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Join builds a flag prefix: Join("embedding") == "embedding.", Join() == "".
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions is implemented by every option section.
type IOptions interface {
	// Validate reports every invalid field, it never stops at the first one.
	Validate() []error

	// AddFlags registers the section flags, prefixed by prefixes.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// Section 是一个带名称、可补全、可校验的配置块。
type Section struct {
	Name     string
	Complete func() error
	Validate func() []error
}

// CompleteAll runs Complete on each section in order and stops at the first failure.
func CompleteAll(sections ...Section) error {
	for _, s := range sections {
		if s.Complete == nil {
			continue
		}
		if err := s.Complete(); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

// ValidateAll collects the errors of every section. Errors that do not
// already name a flag of the section are prefixed with the section name.
func ValidateAll(sections ...Section) []error {
	var errs []error
	for _, s := range sections {
		if s.Validate == nil {
			continue
		}
		for _, err := range s.Validate() {
			if strings.HasPrefix(err.Error(), Join(s.Name)) {
				errs = append(errs, err)
				continue
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errs
}

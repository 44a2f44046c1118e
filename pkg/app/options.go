// Package app defines the contract between command line options and the
// application bootstrap in pkg/infra/app.
package app

import "github.com/kart-io/sentinel-rag/pkg/app/cliflag"

// CliOptions is implemented by the options struct of a command.
// Flags are grouped into sections; viper decodes config files and
// environment variables into the same struct before Complete runs.
type CliOptions interface {
	// Flags returns the flag sets grouped by section.
	Flags() cliflag.NamedFlagSets
	// Complete fills derived values and secrets from the environment.
	Complete() error
	// Validate aggregates every option group's validation errors.
	Validate() error
}

package ragsqlctl

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultBaseURL = "http://localhost:8080"
	// ask can wait on a slow local model, so the default is generous.
	defaultTimeout = 60 * time.Second
)

// OptionsFromEnv reads RAGSQL_API_URL and RAGSQL_CLI_TIMEOUT. Flags given
// on the command line still win. A malformed timeout is reported through
// warn and the default is kept.
func OptionsFromEnv(lookup func(string) (string, bool), warn func(string)) Options {
	options := Options{BaseURL: defaultBaseURL, Timeout: defaultTimeout}
	if raw, ok := lookup("RAGSQL_API_URL"); ok && strings.TrimSpace(raw) != "" {
		options.BaseURL = strings.TrimSpace(raw)
	}
	if raw, ok := lookup("RAGSQL_CLI_TIMEOUT"); ok && strings.TrimSpace(raw) != "" {
		parsed, err := time.ParseDuration(strings.TrimSpace(raw))
		switch {
		case err != nil || parsed <= 0:
			if warn != nil {
				warn(fmt.Sprintf("invalid RAGSQL_CLI_TIMEOUT %q; using %s", raw, defaultTimeout))
			}
		default:
			options.Timeout = parsed
		}
	}
	return options
}

package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSrc string

// ValidationError reports a configuration value rejected by the schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Message
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Validate checks c against the embedded CUE schema. Only the first
// violation is reported.
func Validate(c Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(view(c)))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// view flattens c into the shape the schema describes. Durations are carried
// as milliseconds.
func view(c Config) map[string]any {
	origins := c.Server.AllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	return map[string]any{
		"api_url":             c.APIURL,
		"db_path":             c.DBPath,
		"journal_key":         c.JournalKey,
		"page_size":           c.PageSize,
		"max_per_item":        c.MaxPerItem,
		"request_timeout_ms":  c.RequestTimeout.Milliseconds(),
		"cache_ttl_ms":        c.CacheTTL.Milliseconds(),
		"fetch_concurrency":   c.FetchConcurrency,
		"requests_per_second": c.RequestsPerSecond,
		"initial_points":      c.InitialPoints,
		"decay_debounce_ms":   c.DecayDebounce.Milliseconds(),
		"redis_url":           c.RedisURL,
		"log": map[string]any{
			"level":        c.Log.Level,
			"format":       c.Log.Format,
			"path":         c.Log.Path,
			"max_size_mb":  c.Log.MaxSizeMB,
			"max_backups":  c.Log.MaxBackups,
			"max_age_days": c.Log.MaxAgeDays,
			"compress":     c.Log.Compress,
		},
		"server": map[string]any{
			"addr":            c.Server.Addr,
			"jwt_secret":      c.Server.JWTSecret,
			"db_path":         c.Server.DBPath,
			"allowed_origins": origins,
			"token_ttl_ms":    c.Server.TokenTTL.Milliseconds(),
		},
	}
}

func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// Package doctor validates trialmatch configuration and worker setup.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/mattjoyce/trialmatch/internal/auth"
	"github.com/mattjoyce/trialmatch/internal/config"
	"github.com/mattjoyce/trialmatch/internal/locator"
	"github.com/mattjoyce/trialmatch/internal/storage"
)

const resolveTimeout = 5 * time.Second

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var knownScopes = map[string]bool{
	auth.ScopeAll:        true,
	auth.ScopePatientsRO: true,
	auth.ScopePatientsRW: true,
	auth.ScopeTrialsRO:   true,
	auth.ScopeTrialsRW:   true,
	auth.ScopeMatchRW:    true,
	auth.ScopeEventsRO:   true,
	"events:rw":          true,
}

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Worker   *Worker `json:"worker,omitempty"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Worker is the resolved worker program, when process mode resolves.
type Worker struct {
	Mode string `json:"mode"`
	Path string `json:"path,omitempty"`
	Dir  string `json:"dir,omitempty"`
	Root string `json:"root,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result. Worker resolution touches
// the filesystem; everything else inspects the config only.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateWorker(ctx, r)
	d.validateStore(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnMissingEnvVars(r)
	d.warnWorkerLimits(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateWorker resolves the worker the way the running service would.
func (d *Doctor) validateWorker(ctx context.Context, r *Result) {
	w := d.cfg.Worker
	if w.Mode == config.WorkerModeHTTP {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			d.addError(r, "worker", "worker.url", fmt.Sprintf("invalid worker url %q", w.URL))
			return
		}
		r.Worker = &Worker{Mode: w.Mode, URL: w.URL}
		return
	}

	loc, err := locator.FromConfig(w)
	if err != nil {
		d.addError(r, "worker", "worker.strategy", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	resolved, err := loc.Resolve(ctx)
	if err != nil {
		d.addError(r, "worker", "worker", err.Error())
		return
	}
	r.Worker = &Worker{Mode: config.WorkerModeProcess, Path: resolved.Path, Dir: resolved.Dir, Root: resolved.Root}
}

// validateStore rejects a sqlite database on a network mount. Detection failures
// only warn: the platform may not support filesystem detection.
func (d *Doctor) validateStore(r *Result) {
	s := d.cfg.Store
	if s.Driver != "" && s.Driver != config.DriverSQLite {
		return
	}
	err := storage.CheckLocalDisk(s.Path)
	var remote *storage.RemoteFSError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		d.addError(r, "store", "store.path", err.Error())
	default:
		d.addWarning(r, "store", "store.path", err.Error())
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	api := d.cfg.API
	if api.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required")
	}
	if !api.Auth.Enabled() {
		msg := "no authentication configured; every API route is open"
		if d.cfg.Service.IsProduction() {
			d.addError(r, "api", "api.auth", msg)
		} else {
			d.addWarning(r, "api", "api.auth", msg)
		}
	}
	for i, origin := range api.CORS.AllowedOrigins {
		if origin == "*" && d.cfg.Service.IsProduction() {
			d.addWarning(r, "api", fmt.Sprintf("api.cors.allowed_origins[%d]", i),
				"wildcard CORS origin in production")
		}
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			if !knownScopes[strings.TrimSpace(scope)] {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

// warnMissingEnvVars warns about ${VAR} references that were not resolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}

	check("api.auth.api_key", d.cfg.API.Auth.APIKey)
	for i, token := range d.cfg.API.Auth.Tokens {
		check(fmt.Sprintf("api.auth.tokens[%d].token", i), token.Token)
	}
	check("store.dsn", d.cfg.Store.DSN)
	check("cache.password", d.cfg.Cache.Password)
	check("worker.url", d.cfg.Worker.URL)
}

// warnWorkerLimits flags timing and concurrency values that look wrong.
func (d *Doctor) warnWorkerLimits(r *Result) {
	w := d.cfg.Worker
	if w.KillGrace >= w.Timeout {
		d.addWarning(r, "worker", "worker.kill_grace",
			fmt.Sprintf("kill_grace %s is not shorter than timeout %s", w.KillGrace, w.Timeout))
	}
	if limit := 4 * runtime.NumCPU(); w.MaxConcurrent > limit {
		d.addWarning(r, "worker", "worker.max_concurrent",
			fmt.Sprintf("max_concurrent %d exceeds 4x CPU count (%d)", w.MaxConcurrent, limit))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	if r.Worker != nil {
		if r.Worker.URL != "" {
			fmt.Fprintf(&b, "  worker: %s\n", r.Worker.URL)
		} else {
			fmt.Fprintf(&b, "  worker: %s (root %s)\n", r.Worker.Path, r.Worker.Root)
		}
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

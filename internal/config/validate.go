package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedStoreBackends = map[string]bool{
	"file":     true,
	"sqlite":   true,
	"postgres": true,
}

var recognizedUiTypes = map[string]bool{"github": true}
var recognizedVcsTypes = map[string]bool{"git": true}
var recognizedCiTypes = map[string]bool{"github": true, "buildbot": true}

// Validate checks a Config for structural and semantic errors. It returns
// every error found, not just the first.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if !recognizedStoreBackends[cfg.Store.Backend] {
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("unrecognized backend %q", cfg.Store.Backend),
		})
	}
	if cfg.Store.Backend == "sqlite" && cfg.Store.Path == "" {
		errs = append(errs, ValidationError{Field: "store.path", Message: "required for sqlite backend"})
	}
	if cfg.Store.Backend == "postgres" && cfg.Store.DSN == "" {
		errs = append(errs, ValidationError{Field: "store.dsn", Message: "required for postgres backend"})
	}

	if len(cfg.Pipelines) == 0 {
		errs = append(errs, ValidationError{Field: "pipelines", Message: "at least one pipeline is required"})
	}

	seenIDs := make(map[int64]bool)
	for i, p := range cfg.Pipelines {
		prefix := fmt.Sprintf("pipelines[%d]", i)

		if p.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
		}
		if p.Repo == "" {
			errs = append(errs, ValidationError{Field: prefix + ".repo", Message: "is required"})
		}
		if seenIDs[p.ID] {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: fmt.Sprintf("duplicate pipeline ID %d", p.ID)})
		}
		seenIDs[p.ID] = true

		if !recognizedUiTypes[p.Ui.Type] {
			errs = append(errs, ValidationError{Field: prefix + ".ui.type", Message: fmt.Sprintf("unrecognized type %q", p.Ui.Type)})
		}
		if !recognizedVcsTypes[p.Vcs.Type] {
			errs = append(errs, ValidationError{Field: prefix + ".vcs.type", Message: fmt.Sprintf("unrecognized type %q", p.Vcs.Type)})
		}

		seenCiIDs := make(map[int64]bool)
		for j, ci := range p.Ci {
			ciPrefix := fmt.Sprintf("%s.ci[%d]", prefix, j)
			if !recognizedCiTypes[ci.Type] {
				errs = append(errs, ValidationError{Field: ciPrefix + ".type", Message: fmt.Sprintf("unrecognized type %q", ci.Type)})
			}
			if seenCiIDs[ci.ID] {
				errs = append(errs, ValidationError{Field: ciPrefix + ".id", Message: fmt.Sprintf("duplicate CI channel ID %d within pipeline", ci.ID)})
			}
			seenCiIDs[ci.ID] = true
		}
	}

	return errs
}

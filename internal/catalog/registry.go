package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gantryml/gantry/internal/config"
)

// ErrNotFound is returned when a logical model id is unknown or disabled.
var ErrNotFound = errors.New("model not found")

// ErrPermissionDenied is returned when a caller is not allowed to use a model.
var ErrPermissionDenied = errors.New("permission denied")

// Registry is the in-memory model catalog. It is built once at startup and
// read-only afterwards; all lookups are deterministic for the process
// lifetime.
type Registry struct {
	byProvider map[Provider][]*Entry
	order      []*Entry
}

type catalogFile struct {
	Models []Entry `yaml:"models"`
}

// Load reads a YAML model catalog and builds a Registry, resolving provider
// credentials through the given secrets accessor.
func Load(path string, secrets config.Secrets) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing model catalog %s: %w", path, err)
	}
	return New(file.Models, secrets), nil
}

// New builds a Registry from the given entries in configuration order.
// Entries that require a credential which the secrets accessor cannot
// provide are downgraded to disabled instead of failing the whole catalog;
// the downgrade is logged so the operator can see which models went dark.
func New(entries []Entry, secrets config.Secrets) *Registry {
	r := &Registry{byProvider: make(map[Provider][]*Entry)}

	for i := range entries {
		e := entries[i]
		if e.Secret != "" && secrets != nil {
			cred, err := secrets.Get(e.Secret)
			switch {
			case errors.Is(err, config.ErrSecretNotFound):
				if e.Enabled {
					slog.Warn("disabling model: provider credential missing",
						"model", e.ID, "secret", e.Secret)
				}
				e.Enabled = false
			case err != nil:
				slog.Warn("disabling model: secret lookup failed",
					"model", e.ID, "secret", e.Secret, "error", err)
				e.Enabled = false
			default:
				e.credential = cred
			}
		}
		r.byProvider[e.Provider] = append(r.byProvider[e.Provider], &e)
		r.order = append(r.order, &e)
	}

	return r
}

// Get resolves a logical model id to its entry, scanning provider buckets in
// the fixed precedence order. Returns ErrNotFound for unknown or disabled
// ids.
func (r *Registry) Get(id string) (*Entry, error) {
	for _, p := range resolveOrder {
		for _, e := range r.byProvider[p] {
			if e.ID == id && e.Enabled {
				return e, nil
			}
		}
	}
	return nil, fmt.Errorf("model %q: %w", id, ErrNotFound)
}

// List returns all enabled entries matching the capability, in configuration
// order.
func (r *Registry) List(c Capability) []*Entry {
	var out []*Entry
	for _, e := range r.order {
		if e.Enabled && e.Has(c) {
			out = append(out, e)
		}
	}
	return out
}

// EnabledForCaller reports whether the caller may use the model. It is a pure
// function of the entry and the caller attributes.
func (r *Registry) EnabledForCaller(id string, caller Caller) bool {
	e, err := r.Get(id)
	if err != nil {
		return false
	}
	if len(e.Roles) == 0 {
		return true
	}
	for _, role := range e.Roles {
		if role == caller.Role {
			return true
		}
	}
	return false
}

// Package driver resolves a module identifier to the pipeline definition it
// builds. Drivers are registered explicitly under a string key; nothing is
// looked up dynamically.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"pipeline-runner/pipeline"
)

// Env is what a driver may use to build its definition.
type Env struct {
	Backend pipeline.Backend
	Logger  *zap.SugaredLogger
}

// Factory builds a pipeline definition.
type Factory func(ctx context.Context, env Env, kwargs pipeline.Kwargs) (pipeline.Definition, error)

// TagsFactory returns the tags to apply given the tags supplied on the command line.
type TagsFactory func(ctx context.Context, env Env, kwargs pipeline.Kwargs, tags []pipeline.Tag) ([]pipeline.Tag, error)

type Driver struct {
	Pipeline Factory
	// Kwargs reports whether Pipeline accepts keyword arguments. When false
	// the parsed kwargs are dropped.
	Kwargs bool
	// CustomTags is optional.
	CustomTags TagsFactory
}

// Registry maps module identifiers to drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds d under id. Registering the same id twice is an error.
func (r *Registry) Register(id string, d Driver) error {
	if id == "" {
		return errors.New("driver id must not be empty")
	}
	if d.Pipeline == nil {
		return errors.Newf("driver %s has no pipeline factory", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.drivers[id]; exists {
		return errors.Newf("driver %s is already registered", id)
	}
	r.drivers[id] = d
	return nil
}

// MustRegister is Register for package initialisation.
func (r *Registry) MustRegister(id string, d Driver) {
	if err := r.Register(id, d); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(id string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[id]
	return d, ok
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolved is the outcome of Resolve.
type Resolved struct {
	Definition pipeline.Definition
	Tags       []pipeline.Tag
}

// Resolve parses kwargsBlob, invokes the driver registered under id and
// computes the final tag list. Malformed kwargs fail with ErrArgument before
// the driver is called; every driver failure is reported as ErrResolution.
// The custom tags factory is best effort: on failure the CLI tags are used.
func (r *Registry) Resolve(ctx context.Context, env Env, id, kwargsBlob string, cliTags []pipeline.Tag) (*Resolved, error) {
	kwargs, err := pipeline.ParseKwargs(kwargsBlob)
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop().Sugar()
	}

	d, ok := r.Lookup(id)
	if !ok {
		return nil, pipeline.ResolutionError(
			errors.WithHintf(errors.Newf("no driver registered for %q", id), "registered drivers: %v", r.IDs()),
			"cannot load module %s", id)
	}

	factoryKwargs := kwargs
	if !d.Kwargs {
		if len(kwargs) > 0 {
			env.Logger.Debugw("Driver takes no kwargs, ignoring them", "module", id)
		}
		factoryKwargs = pipeline.Kwargs{}
	}

	def, err := invoke(ctx, env, d.Pipeline, factoryKwargs)
	if err != nil {
		return nil, pipeline.ResolutionError(err, "driver %s failed to build its pipeline", id)
	}
	if def == nil {
		return nil, pipeline.ResolutionError(errors.New("factory returned no definition"), "driver %s failed to build its pipeline", id)
	}

	return &Resolved{Definition: def, Tags: customTags(ctx, env, id, d, kwargs, cliTags)}, nil
}

func invoke(ctx context.Context, env Env, f Factory, kwargs pipeline.Kwargs) (def pipeline.Definition, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("factory panicked: %s", fmt.Sprint(p))
		}
	}()
	return f(ctx, env, kwargs)
}

func customTags(ctx context.Context, env Env, id string, d Driver, kwargs pipeline.Kwargs, cliTags []pipeline.Tag) []pipeline.Tag {
	if d.CustomTags == nil {
		return cliTags
	}
	tags, err := d.CustomTags(ctx, env, kwargs, cliTags)
	if err != nil {
		env.Logger.Warnw("Error getting custom tags, using command line tags", "module", id, "error", err)
		return cliTags
	}
	return pipeline.MergeTags(cliTags, tags)
}

// Default holds the built-in drivers.
var Default = NewRegistry()

func init() {
	Default.MustRegister(FileDriverID, FileDriver())
}

// Package board defines the boards whose GPIO pins carry the emulated encoder signals, and the
// registry every board model adds itself to.
package board

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/gitsim/gitsim/logging"
)

// A Board gives access to named GPIO pins.
type Board interface {
	// GPIOPinByName returns a GPIOPin by name. Pins are opened lazily and stay open until Close.
	GPIOPinByName(name string) (GPIOPin, error)

	// Close releases every pin the board opened.
	Close(ctx context.Context) error
}

// AttributeMap holds the model specific attributes of a board as read from a config file.
type AttributeMap map[string]interface{}

// A Constructor builds a board of one model from its attributes.
type Constructor func(ctx context.Context, attributes AttributeMap, logger logging.Logger) (Board, error)

// Registration describes a board model.
type Registration struct {
	Constructor Constructor
	// Validate checks the attributes without opening any hardware. Optional.
	Validate func(path string, attributes AttributeMap) error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// RegisterModel registers a board model. It panics if the model is registered twice or has no
// constructor, which can only happen through a programming error in an init function.
func RegisterModel(model string, reg Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[model]; ok {
		panic(errors.Errorf("trying to register two boards with the same model %q", model))
	}
	if reg.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for board model %q", model))
	}
	registry[model] = reg
}

// LookupModel returns the registration of a model, if any.
func LookupModel(model string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[model]
	return reg, ok
}

// RegisteredModels returns the sorted names of every registered model.
func RegisteredModels() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := make([]string, 0, len(registry))
	for model := range registry {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// New builds a board of the given model.
func New(ctx context.Context, model string, attributes AttributeMap, logger logging.Logger) (Board, error) {
	reg, ok := LookupModel(model)
	if !ok {
		return nil, errors.Errorf("unknown board model %q, known models are %v", model, RegisteredModels())
	}
	b, err := reg.Constructor(ctx, attributes, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create %s board", model)
	}
	return b, nil
}

// Validate checks attributes for the given model.
func Validate(path, model string, attributes AttributeMap) error {
	reg, ok := LookupModel(model)
	if !ok {
		return errors.Errorf("%s: unknown board model %q, known models are %v", path, model, RegisteredModels())
	}
	if reg.Validate == nil {
		return nil
	}
	return reg.Validate(path, attributes)
}

// TransformAttributeMap decodes attributes into the model's config type using its json tags.
// Attributes the config type does not know about are an error.
func TransformAttributeMap[T any](attributes AttributeMap) (T, error) {
	var out T

	var forResult interface{}

	toT := reflect.TypeOf(out)
	if toT == nil {
		// nothing to transform
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		// needs to be allocated then
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate default config type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           forResult,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return out, err
	}
	if len(md.Unused) != 0 {
		sort.Strings(md.Unused)
		return out, errors.Errorf("unknown attributes %v", md.Unused)
	}
	return out, nil
}

package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/integractl/internal/protocol"
	logs "github.com/danmuck/integractl/internal/logging"
)

// MissingOptionError names the first required key absent from an option map.
type MissingOptionError struct {
	Type string
	Key  string
}

func (e *MissingOptionError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("schema: missing option %q", e.Key)
	}
	return fmt.Sprintf("schema: type=%s: missing option %q", e.Type, e.Key)
}

func (e *MissingOptionError) Unwrap() error { return protocol.ErrInvalidOptions }

// InvalidValueError reports an option that is present but cannot be used.
type InvalidValueError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("schema: option %q=%q: %s", e.Key, e.Value, e.Reason)
}

func (e *InvalidValueError) Unwrap() error { return protocol.ErrInvalidOptions }

// Descriptor binds a type name to its constructor and required-option schema.
// Required is checked in declared order; the first absent key is reported.
type Descriptor[T any] struct {
	Name     string
	Aliases  []string
	Group    string
	Required []string
	Optional []string
	Validate func(opts map[string]string) error
	New      func(opts map[string]string) (T, error)
}

// Registry maps type names to descriptors. It is filled during package init and
// read-only afterwards, so lookups need no locking.
type Registry[T any] struct {
	kind    string
	typeKey string
	order   []string
	items   map[string]*Descriptor[T]
	aliases map[string]string
}

// NewRegistry creates a registry whose option maps carry the type name under typeKey.
func NewRegistry[T any](kind, typeKey string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		typeKey: typeKey,
		items:   make(map[string]*Descriptor[T]),
		aliases: make(map[string]string),
	}
}

// TypeKey returns the option key holding the type name.
func (r *Registry[T]) TypeKey() string {
	return r.typeKey
}

// MustRegister adds d. It panics on duplicate names and is meant for init-time use.
func (r *Registry[T]) MustRegister(d Descriptor[T]) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		panic(fmt.Sprintf("%s: descriptor without name", r.kind))
	}
	if _, ok := r.items[name]; ok {
		panic(fmt.Sprintf("%s: duplicate type %q", r.kind, name))
	}
	if d.New == nil {
		panic(fmt.Sprintf("%s: type %q has no constructor", r.kind, name))
	}
	d.Name = name
	d.Required = append([]string(nil), d.Required...)
	d.Optional = append([]string(nil), d.Optional...)
	r.items[name] = &d
	r.order = append(r.order, name)
	for _, alias := range d.Aliases {
		r.aliases[alias] = name
	}
}

// Lookup resolves name, or one of its aliases, to a descriptor.
func (r *Registry[T]) Lookup(name string) (*Descriptor[T], bool) {
	name = strings.TrimSpace(name)
	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	d, ok := r.items[name]
	return d, ok
}

// List returns registered type names in registration order.
func (r *Registry[T]) List() []string {
	return append([]string(nil), r.order...)
}

// Groups returns the distinct descriptor groups in registration order.
func (r *Registry[T]) Groups() []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, name := range r.order {
		g := r.items[name].Group
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}

// ListForGroup returns the type names registered under group.
func (r *Registry[T]) ListForGroup(group string) []string {
	out := make([]string, 0)
	for _, name := range r.order {
		if r.items[name].Group == group {
			out = append(out, name)
		}
	}
	return out
}

// OptionsFor returns the required option keys for a type in declared order.
func (r *Registry[T]) OptionsFor(name string) ([]string, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", protocol.ErrUnknownType, r.kind, name)
	}
	return append([]string(nil), d.Required...), nil
}

// OptionalFor returns the optional option keys for a type.
func (r *Registry[T]) OptionalFor(name string) ([]string, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", protocol.ErrUnknownType, r.kind, name)
	}
	return append([]string(nil), d.Optional...), nil
}

// TypeOf returns the canonical type named by opts.
func (r *Registry[T]) TypeOf(opts map[string]string) (string, error) {
	raw, ok := present(opts, r.typeKey)
	if !ok {
		return "", &MissingOptionError{Key: r.typeKey}
	}
	d, found := r.Lookup(raw)
	if !found {
		return "", fmt.Errorf("%w: %s %q", protocol.ErrUnknownType, r.kind, raw)
	}
	return d.Name, nil
}

// ValidateOptions checks opts against the schema of the type it names.
func (r *Registry[T]) ValidateOptions(opts map[string]string) error {
	name, err := r.TypeOf(opts)
	if err != nil {
		logs.Debugf("%s.ValidateOptions err=%v", r.kind, err)
		return err
	}
	d := r.items[name]
	if err := Require(name, opts, d.Required); err != nil {
		logs.Debugf("%s.ValidateOptions type=%s err=%v", r.kind, name, err)
		return err
	}
	if d.Validate != nil {
		if err := d.Validate(opts); err != nil {
			logs.Debugf("%s.ValidateOptions type=%s err=%v", r.kind, name, err)
			return err
		}
	}
	return nil
}

// New validates opts and builds an instance of the type they name.
func (r *Registry[T]) New(opts map[string]string) (T, error) {
	var zero T
	if err := r.ValidateOptions(opts); err != nil {
		return zero, err
	}
	name, _ := r.TypeOf(opts)
	return r.items[name].New(Copy(opts))
}

// Require returns a MissingOptionError for the first key of required absent from opts.
func Require(typeName string, opts map[string]string, required []string) error {
	for _, key := range required {
		if _, ok := present(opts, key); !ok {
			return &MissingOptionError{Type: typeName, Key: key}
		}
	}
	return nil
}

// Copy returns a shallow copy of opts; nil stays an empty map.
func Copy(opts map[string]string) map[string]string {
	out := make(map[string]string, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}

func present(opts map[string]string, key string) (string, bool) {
	v, ok := opts[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

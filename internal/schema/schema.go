package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Role buckets a template kind into the ownership rule that governs who may
// manipulate entities spawned from it. The bucket is derived from the kind's
// suffix; kinds with no recognised suffix fall into RoleOther and are never
// manipulable by non-creators.
type Role int

const (
	RoleOther Role = iota
	RoleAvatar
	RoleMedia
	RoleCamera
	RoleDrawing
)

// RoleOf classifies a template kind by its suffix. First match wins.
func RoleOf(kind string) Role {
	switch {
	case strings.HasSuffix(kind, "-avatar"):
		return RoleAvatar
	case strings.HasSuffix(kind, "-media"):
		return RoleMedia
	case strings.HasSuffix(kind, "-camera"):
		return RoleCamera
	case strings.HasSuffix(kind, "-pen"), strings.HasSuffix(kind, "-drawing"):
		return RoleDrawing
	}
	return RoleOther
}

// ComponentRef names one synchronised slot of a template: either a whole
// component or a single property of one.
type ComponentRef struct {
	Component string `json:"component" yaml:"component"`
	Property  string `json:"property,omitempty" yaml:"property,omitempty"`
}

func (c ComponentRef) String() string {
	if c.Property == "" {
		return c.Component
	}
	return c.Component + "." + c.Property
}

// Template declares the ordered component schema for one template kind. Slot
// indices on the wire refer to positions in Components. NonAuthorizedSafe
// lists the refs a sender may set without owning or having created the
// entity; everything else is stripped for unauthorized senders.
type Template struct {
	Kind              string         `json:"kind" yaml:"kind"`
	Components        []ComponentRef `json:"components" yaml:"components"`
	NonAuthorizedSafe []ComponentRef `json:"nonAuthorizedSafe,omitempty" yaml:"nonAuthorizedSafe,omitempty"`
}

var (
	errEmptyKind        = errors.New("template kind must not be empty")
	errNoComponents     = errors.New("template declares no components")
	errEmptyComponent   = errors.New("component name must not be empty")
	errUnknownSafeSlot  = errors.New("non-authorized-safe ref does not match any declared component")
	errDuplicateRef     = errors.New("duplicate component ref")
	errDuplicateSafeRef = errors.New("duplicate non-authorized-safe ref")
)

// Registry holds the validated template set with the per-kind safe-slot
// index sets precomputed. Built once at startup; read-only afterwards.
type Registry struct {
	templates map[string]Template
	safeSlots map[string]map[int]struct{}
	kinds     []string
}

// NewRegistry validates the given templates and precomputes every safe-slot
// set. A misconfigured template is a packaging bug, so it fails here, loudly,
// rather than degrading into silent denials at message time.
func NewRegistry(templates []Template) (*Registry, error) {
	reg := &Registry{
		templates: make(map[string]Template, len(templates)),
		safeSlots: make(map[string]map[int]struct{}, len(templates)),
		kinds:     make([]string, 0, len(templates)),
	}
	for _, tpl := range templates {
		if err := tpl.validate(); err != nil {
			return nil, fmt.Errorf("schema: template %q: %w", tpl.Kind, err)
		}
		if _, exists := reg.templates[tpl.Kind]; exists {
			return nil, fmt.Errorf("schema: duplicate template kind %q", tpl.Kind)
		}
		reg.templates[tpl.Kind] = tpl
		reg.safeSlots[tpl.Kind] = tpl.safeSlotSet()
		reg.kinds = append(reg.kinds, tpl.Kind)
	}
	return reg, nil
}

// Template returns the declared schema for a kind.
func (r *Registry) Template(kind string) (Template, bool) {
	tpl, ok := r.templates[kind]
	return tpl, ok
}

// SafeSlots returns the set of slot indices a non-authorized sender may
// still write for the given kind. The second return is false for kinds the
// registry does not know, in which case callers must treat every slot as
// unauthorized.
func (r *Registry) SafeSlots(kind string) (map[int]struct{}, bool) {
	set, ok := r.safeSlots[kind]
	return set, ok
}

// Kinds lists registered template kinds in declaration order.
func (r *Registry) Kinds() []string {
	return append([]string(nil), r.kinds...)
}

func (t Template) validate() error {
	if strings.TrimSpace(t.Kind) == "" {
		return errEmptyKind
	}
	if len(t.Components) == 0 {
		return errNoComponents
	}
	seen := make(map[string]struct{}, len(t.Components))
	for _, ref := range t.Components {
		if strings.TrimSpace(ref.Component) == "" {
			return errEmptyComponent
		}
		key := ref.String()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s", errDuplicateRef, key)
		}
		seen[key] = struct{}{}
	}
	safeSeen := make(map[string]struct{}, len(t.NonAuthorizedSafe))
	for _, ref := range t.NonAuthorizedSafe {
		key := ref.String()
		if _, dup := safeSeen[key]; dup {
			return fmt.Errorf("%w: %s", errDuplicateSafeRef, key)
		}
		safeSeen[key] = struct{}{}
		if _, declared := seen[key]; !declared {
			return fmt.Errorf("%w: %s", errUnknownSafeSlot, key)
		}
	}
	return nil
}

func (t Template) safeSlotSet() map[int]struct{} {
	set := make(map[int]struct{}, len(t.NonAuthorizedSafe))
	for _, safe := range t.NonAuthorizedSafe {
		for idx, ref := range t.Components {
			if ref == safe {
				set[idx] = struct{}{}
				break
			}
		}
	}
	return set
}

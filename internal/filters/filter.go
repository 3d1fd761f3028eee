// Package filters turns the facets of a worksite or user search into the
// query parameters the Crisis Cleanup API understands, and back into the
// labels the UI shows as removable chips.
package filters

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by every operation of a Filter whose kind has
// no implementation. It signals a programming error, not bad input.
var ErrNotImplemented = errors.New("not implemented")

// Kind identifies a filter variant and selects the payload it carries.
type Kind string

const (
	KindStatus          Kind = "status"
	KindFlags           Kind = "flags"
	KindFields          Kind = "fields"
	KindTeams           Kind = "teams"
	KindRole            Kind = "role"
	KindMyTeam          Kind = "my_team"
	KindMissingWorkType Kind = "missing_work_type"
	KindSurvivor        Kind = "survivor"
	KindFormData        Kind = "form_data"
	KindInvitedBy       Kind = "invited_by"
	KindLists           Kind = "lists"
)

// UserRef is a user picked in the invited-by filter.
type UserRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// ListRef is a saved worksite list picked in the lists filter.
type ListRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Filter is one facet of a search. Exactly one payload field is in use, as
// selected by Kind; the zero Kind is the abstract base and implements nothing.
type Filter struct {
	Name string
	Kind Kind

	toggles map[string]bool
	on      bool
	users   []UserRef
	include []ListRef
	exclude []ListRef
}

func newToggles(name string, kind Kind, data map[string]bool) *Filter {
	t := make(map[string]bool, len(data))
	for k, v := range data {
		t[k] = v
	}
	return &Filter{Name: name, Kind: kind, toggles: t}
}

// NewStatus filters worksites by work type status.
func NewStatus(name string, data map[string]bool) *Filter {
	return newToggles(name, KindStatus, data)
}

// NewFlags filters worksites by flag type.
func NewFlags(name string, data map[string]bool) *Filter {
	return newToggles(name, KindFlags, data)
}

// NewFields filters worksites by work type.
func NewFields(name string, data map[string]bool) *Filter {
	return newToggles(name, KindFields, data)
}

// NewTeams filters worksites by assigned team id.
func NewTeams(name string, data map[string]bool) *Filter {
	return newToggles(name, KindTeams, data)
}

// NewRole filters users by role id.
func NewRole(name string, data map[string]bool) *Filter {
	return newToggles(name, KindRole, data)
}

// NewFormData filters worksites by boolean form fields.
func NewFormData(name string, data map[string]bool) *Filter {
	return newToggles(name, KindFormData, data)
}

// NewMyTeam restricts worksites to those claimed by the caller's team.
func NewMyTeam(name string, on bool) *Filter {
	return &Filter{Name: name, Kind: KindMyTeam, on: on}
}

// NewMissingWorkType restricts worksites to those without any work type.
func NewMissingWorkType(name string, on bool) *Filter {
	return &Filter{Name: name, Kind: KindMissingWorkType, on: on}
}

// NewSurvivor restricts to survivors belonging to the caller's organization.
func NewSurvivor(name string, on bool) *Filter {
	return &Filter{Name: name, Kind: KindSurvivor, on: on}
}

// NewInvitedBy filters users by the user that invited them. Duplicate ids
// are collapsed, the first occurrence wins.
func NewInvitedBy(name string, users []UserRef) *Filter {
	f := &Filter{Name: name, Kind: KindInvitedBy}
	for _, u := range users {
		f.AddUser(u)
	}
	return f
}

// NewLists includes or excludes worksites on saved lists.
func NewLists(name string, include, exclude []ListRef) *Filter {
	return &Filter{
		Name:    name,
		Kind:    KindLists,
		include: append([]ListRef(nil), include...),
		exclude: append([]ListRef(nil), exclude...),
	}
}

// Set toggles one key of a boolean-map filter.
func (f *Filter) Set(key string, active bool) error {
	if !f.Kind.isToggleMap() {
		return fmt.Errorf("set %q on %s filter: %w", key, f.describe(), ErrNotImplemented)
	}
	if f.toggles == nil {
		f.toggles = make(map[string]bool)
	}
	f.toggles[key] = active
	return nil
}

// AddUser adds a user to an invited-by filter unless it is already present.
func (f *Filter) AddUser(u UserRef) {
	for _, have := range f.users {
		if have.ID == u.ID {
			return
		}
	}
	f.users = append(f.users, u)
}

func (k Kind) isToggleMap() bool {
	switch k {
	case KindStatus, KindFlags, KindFields, KindTeams, KindRole, KindFormData:
		return true
	}
	return false
}

func (k Kind) isSwitch() bool {
	switch k {
	case KindMyTeam, KindMissingWorkType, KindSurvivor:
		return true
	}
	return false
}

func (f *Filter) describe() string {
	if f.Kind == "" {
		return "abstract"
	}
	return string(f.Kind)
}

func (f *Filter) notImplemented(op string) error {
	return fmt.Errorf("%s on %s filter %q: %w", op, f.describe(), f.Name, ErrNotImplemented)
}

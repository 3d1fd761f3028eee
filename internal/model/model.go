// Package model holds the Crisis Cleanup entities the gateway reads from the
// backend API.
package model

import "time"

// Model names, as used in cache keys and API paths.
const (
	Worksites = "worksites"
	Incidents = "incidents"
	Users     = "users"
	Teams     = "teams"
	Roles     = "roles"
)

// Worksite is a physical location needing cleanup or assistance.
type Worksite struct {
	ID         int64      `json:"id"`
	CaseNumber string     `json:"case_number,omitempty"`
	Name       string     `json:"name,omitempty"`
	Address    string     `json:"address,omitempty"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	PostalCode string     `json:"postal_code,omitempty"`
	Incident   int64      `json:"incident,omitempty"`
	WorkTypes  []WorkType `json:"work_types,omitempty"`
}

// WorkType is one task category at a worksite.
type WorkType struct {
	ID           int64  `json:"id"`
	WorkType     string `json:"work_type"`
	Status       string `json:"status"`
	ClaimedBy    *int64 `json:"claimed_by,omitempty"`
	CaseNumber   string `json:"case_number,omitempty"`
	Organization *int64 `json:"organization,omitempty"`
}

// Incident is a disaster response event scoping worksites and users.
type Incident struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ShortName string    `json:"short_name,omitempty"`
	Type      string    `json:"incident_type,omitempty"`
	StartAt   time.Time `json:"start_at,omitempty"`
}

// User is a Crisis Cleanup account.
type User struct {
	ID           int64      `json:"id"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Email        string     `json:"email"`
	Organization int64      `json:"organization,omitempty"`
	Roles        []int64    `json:"roles,omitempty"`
	States       UserStates `json:"states"`
}

// FullName joins first and last name.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserStates is the free-form per-user UI state the backend stores. Only the
// current incident is interpreted here.
type UserStates struct {
	Incident int64 `json:"incident,omitempty"`
}

// Team is a group of users inside an organization.
type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Role is a user role, such as organization admin.
type Role struct {
	ID          int64  `json:"id"`
	NameT       string `json:"name_t"`
	Description string `json:"description_t,omitempty"`
}

// Page is one page of a list endpoint.
type Page[T any] struct {
	Count   int    `json:"count"`
	Next    string `json:"next,omitempty"`
	Results []T    `json:"results"`
}

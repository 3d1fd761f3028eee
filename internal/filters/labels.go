package filters

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Translator resolves a translation key. Implementations return the key
// itself when they have no message for it.
type Translator interface {
	Translate(key string) string
}

// Directory resolves display names of entities referenced by id, such as
// teams and roles.
type Directory interface {
	DisplayName(model, id string) (string, bool)
}

// LabelContext carries the lookups Labels needs. Nil members fall back to
// identity translation and raw ids.
type LabelContext struct {
	Translator Translator
	Directory  Directory
}

type labelSpec struct {
	prefix string
	// namespace for translating the value, empty when the value comes from
	// the directory
	valueNS string
	model   string
}

var toggleLabels = map[Kind]labelSpec{
	KindStatus:   {prefix: "worksiteFilters.status", valueNS: "status."},
	KindFlags:    {prefix: "worksiteFilters.flags", valueNS: "flag."},
	KindFields:   {prefix: "worksiteFilters.work_type", valueNS: "workType."},
	KindFormData: {prefix: "worksiteFilters.form_data", valueNS: "formLabels."},
	KindTeams:    {prefix: "worksiteFilters.teams", model: "teams"},
	KindRole:     {prefix: "userFilters.role", model: "roles"},
}

var switchLabels = map[Kind]string{
	KindMyTeam:          "worksiteFilters.my_team",
	KindMissingWorkType: "worksiteFilters.missing_work_type",
	KindSurvivor:        "worksiteFilters.member_of_my_organization",
}

const (
	invitedByLabel    = "userFilters.invited_by"
	includeListsLabel = "worksiteFilters.include_lists"
	excludeListsLabel = "worksiteFilters.exclude_lists"
)

// Labels returns a human readable label for each active field, keyed by the
// identifier RemoveField accepts.
func (f *Filter) Labels(lc LabelContext) (map[string]string, error) {
	out := map[string]string{}
	switch {
	case f.Kind.isToggleMap():
		spec := toggleLabels[f.Kind]
		prefix := lc.translate(spec.prefix)
		for _, k := range f.activeKeys() {
			var value string
			if spec.model != "" {
				value = lc.displayName(spec.model, k)
			} else {
				value = lc.translateValue(spec.valueNS, k)
			}
			out[k] = prefix + ": " + value
		}
	case f.Kind.isSwitch():
		if f.on {
			out[switchParams[f.Kind]] = lc.translate(switchLabels[f.Kind])
		}
	case f.Kind == KindInvitedBy:
		prefix := lc.translate(invitedByLabel)
		for _, u := range f.users {
			name := u.FullName
			if name == "" {
				name = strconv.FormatInt(u.ID, 10)
			}
			out[strconv.FormatInt(u.ID, 10)] = prefix + ": " + name
		}
	case f.Kind == KindLists:
		inc := lc.translate(includeListsLabel)
		for _, l := range f.include {
			out[listKey(paramIncludeLists, l.ID)] = inc + ": " + listName(l)
		}
		exc := lc.translate(excludeListsLabel)
		for _, l := range f.exclude {
			out[listKey(paramExcludeLists, l.ID)] = exc + ": " + listName(l)
		}
	default:
		return nil, f.notImplemented("labels")
	}
	return out, nil
}

func (lc LabelContext) translate(key string) string {
	if lc.Translator == nil {
		return key
	}
	return lc.Translator.Translate(key)
}

// translateValue looks up ns+key and humanises the key when there is no
// message for it, so "open" reads "Open" without a catalog.
func (lc LabelContext) translateValue(ns, key string) string {
	full := ns + key
	if got := lc.translate(full); got != full && got != "" {
		return got
	}
	return Humanize(key)
}

func (lc LabelContext) displayName(model, id string) string {
	if lc.Directory != nil {
		if name, ok := lc.Directory.DisplayName(model, id); ok && name != "" {
			return name
		}
	}
	return id
}

func listName(l ListRef) string {
	if l.Name != "" {
		return l.Name
	}
	return strconv.FormatInt(l.ID, 10)
}

// Humanize turns a snake_case key into title case words.
func Humanize(key string) string {
	// a Caser keeps state between calls and cannot be shared
	return cases.Title(language.English).String(strings.ReplaceAll(key, "_", " "))
}

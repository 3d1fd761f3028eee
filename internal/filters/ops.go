package filters

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// query parameter names understood by the worksites and users endpoints
const (
	paramStatus          = "work_type__status__in"
	paramFlags           = "flags"
	paramWorkType        = "work_type__work_type__in"
	paramTeams           = "teams"
	paramRole            = "role"
	paramMyTeam          = "my_team"
	paramMissingWorkType = "missing_work_type"
	paramSurvivor        = "member_of_my_organization"
	paramFormData        = "form_data"
	paramInvitedBy       = "referring_user__in"
	paramIncludeLists    = "include_lists"
	paramExcludeLists    = "exclude_lists"
)

var toggleParams = map[Kind]string{
	KindStatus:   paramStatus,
	KindFlags:    paramFlags,
	KindFields:   paramWorkType,
	KindTeams:    paramTeams,
	KindRole:     paramRole,
	KindFormData: paramFormData,
}

var switchParams = map[Kind]string{
	KindMyTeam:          paramMyTeam,
	KindMissingWorkType: paramMissingWorkType,
	KindSurvivor:        paramSurvivor,
}

// Pack converts the active fields into REST query parameters. The result is
// empty exactly when Count is zero.
func (f *Filter) Pack() (map[string]string, error) {
	out := map[string]string{}
	switch {
	case f.Kind.isToggleMap():
		keys := f.activeKeys()
		if len(keys) == 0 {
			return out, nil
		}
		if f.Kind == KindFormData {
			for i, k := range keys {
				keys[i] = k + ":true"
			}
		}
		out[toggleParams[f.Kind]] = strings.Join(keys, ",")
	case f.Kind.isSwitch():
		if f.on {
			out[switchParams[f.Kind]] = "true"
		}
	case f.Kind == KindInvitedBy:
		if len(f.users) > 0 {
			ids := make([]string, len(f.users))
			for i, u := range f.users {
				ids[i] = strconv.FormatInt(u.ID, 10)
			}
			out[paramInvitedBy] = strings.Join(ids, ",")
		}
	case f.Kind == KindLists:
		if len(f.include) > 0 {
			out[paramIncludeLists] = joinListIDs(f.include)
		}
		if len(f.exclude) > 0 {
			out[paramExcludeLists] = joinListIDs(f.exclude)
		}
	default:
		return nil, f.notImplemented("pack")
	}
	return out, nil
}

// Count reports how many fields or members are active.
func (f *Filter) Count() (int, error) {
	switch {
	case f.Kind.isToggleMap():
		n := 0
		for _, v := range f.toggles {
			if v {
				n++
			}
		}
		return n, nil
	case f.Kind.isSwitch():
		if f.on {
			return 1, nil
		}
		return 0, nil
	case f.Kind == KindInvitedBy:
		return len(f.users), nil
	case f.Kind == KindLists:
		return len(f.include) + len(f.exclude), nil
	default:
		return 0, f.notImplemented("count")
	}
}

// RemoveField deactivates the field named by id, which is one of the keys
// returned by Labels. Removing something that is not active does nothing.
func (f *Filter) RemoveField(id string) error {
	switch {
	case f.Kind.isToggleMap():
		if _, ok := f.toggles[id]; ok {
			f.toggles[id] = false
		}
	case f.Kind.isSwitch():
		if id == switchParams[f.Kind] {
			f.on = false
		}
	case f.Kind == KindInvitedBy:
		uid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil
		}
		f.users = slices.DeleteFunc(f.users, func(u UserRef) bool { return u.ID == uid })
	case f.Kind == KindLists:
		param, raw, ok := strings.Cut(id, ":")
		if !ok {
			return nil
		}
		lid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil
		}
		match := func(l ListRef) bool { return l.ID == lid }
		switch param {
		case paramIncludeLists:
			f.include = slices.DeleteFunc(f.include, match)
		case paramExcludeLists:
			f.exclude = slices.DeleteFunc(f.exclude, match)
		}
	default:
		return f.notImplemented("remove field")
	}
	return nil
}

func (f *Filter) activeKeys() []string {
	keys := make([]string, 0, len(f.toggles))
	for k, v := range f.toggles {
		if v {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func joinListIDs(lists []ListRef) string {
	ids := make([]string, len(lists))
	for i, l := range lists {
		ids[i] = strconv.FormatInt(l.ID, 10)
	}
	return strings.Join(ids, ",")
}

func listKey(param string, id int64) string {
	return fmt.Sprintf("%s:%d", param, id)
}

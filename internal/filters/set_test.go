package filters

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSet_QueryMergesAllFilters(t *testing.T) {
	t.Parallel()

	s := Set{}
	s.Add(NewStatus("statuses", map[string]bool{"open": true}))
	s.Add(NewTeams("teams", map[string]bool{"7": true, "2": true}))
	s.Add(NewMyTeam("my_team", false))
	s.Add(NewLists("lists", nil, []ListRef{{ID: 4}}))

	q, err := s.Query()
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := "exclude_lists=4&teams=2%2C7&work_type__status__in=open"
	if got := q.Encode(); got != want {
		t.Errorf("Query().Encode() = %q, want %q", got, want)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}
}

func TestSet_LabelsSkipInactive(t *testing.T) {
	t.Parallel()

	s := Set{}
	s.Add(NewStatus("statuses", map[string]bool{"open": true}))
	s.Add(NewSurvivor("survivor", false))

	got, err := s.Labels(LabelContext{})
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	want := map[string]map[string]string{
		"statuses": {"open": "worksiteFilters.status: Open"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Labels mismatch (-want +got):\n%s", diff)
	}
}

func TestSet_RemoveFieldDropsEmptyFilter(t *testing.T) {
	t.Parallel()

	s := Set{}
	s.Add(NewStatus("statuses", map[string]bool{"open": true, "closed": true}))

	if err := s.RemoveField("statuses", "open"); err != nil {
		t.Fatalf("RemoveField: %v", err)
	}
	if _, ok := s["statuses"]; !ok {
		t.Fatal("filter removed while a field is still active")
	}
	if err := s.RemoveField("statuses", "closed"); err != nil {
		t.Fatalf("RemoveField: %v", err)
	}
	if _, ok := s["statuses"]; ok {
		t.Error("filter kept after its count reached zero")
	}
	if err := s.RemoveField("statuses", "closed"); err != nil {
		t.Errorf("RemoveField on missing filter: %v", err)
	}
}

func TestSet_Prune(t *testing.T) {
	t.Parallel()

	s := Set{}
	s.Add(NewFlags("flags", map[string]bool{"a": false}))
	s.Add(NewMyTeam("my_team", true))
	if err := s.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(s) != 1 {
		t.Fatalf("len = %d, want 1", len(s))
	}
	if _, ok := s["my_team"]; !ok {
		t.Error("active filter pruned")
	}
}

func TestSet_AbstractFilterFails(t *testing.T) {
	t.Parallel()

	s := Set{}
	s.Add(&Filter{Name: "base"})
	if _, err := s.Query(); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Query err = %v, want ErrNotImplemented", err)
	}
}

func TestDecodeSet(t *testing.T) {
	t.Parallel()

	raw := `{
		"statuses": {"type": "status", "data": {"open": true, "closed": false}},
		"survivor": {"type": "survivor", "data": {"member_of_my_organization": true}},
		"invited": {"type": "invited_by", "data": [{"id": 3, "full_name": "Kim"}]},
		"lists": {"type": "lists", "data": {"include_lists": [{"id": 1, "name": "A"}], "exclude_lists": []}},
		"form": {"type": "form_data", "data": {"veteran": true}}
	}`
	var specs map[string]Spec
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	s, err := DecodeSet(specs)
	if err != nil {
		t.Fatalf("DecodeSet: %v", err)
	}
	q, err := s.Query()
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	want := map[string]string{
		"work_type__status__in":     "open",
		"member_of_my_organization": "true",
		"referring_user__in":        "3",
		"include_lists":             "1",
		"form_data":                 "veteran:true",
	}
	got := map[string]string{}
	for k := range q {
		got[k] = q.Get(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown type", Spec{Type: "bogus", Data: json.RawMessage(`{}`)}},
		{"toggle wrong shape", Spec{Type: KindStatus, Data: json.RawMessage(`[1,2]`)}},
		{"invited by wrong shape", Spec{Type: KindInvitedBy, Data: json.RawMessage(`{"id":1}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode("x", tt.spec); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDecode_MissingDataIsEmpty(t *testing.T) {
	t.Parallel()

	f, err := Decode("s", Spec{Type: KindStatus})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n := mustCount(t, f); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

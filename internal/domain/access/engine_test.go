package access

import (
	"encoding/json"
	"testing"

	"github.com/rhymu8354/alfred/internal/domain/document"
)

func mustParse(t *testing.T, src string) document.Value {
	t.Helper()
	v, err := document.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return v
}

func toJSON(t *testing.T, v document.Value) string {
	t.Helper()
	b, err := json.Marshal(v.ToAny())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestScenarioAnonymousRead(t *testing.T) {
	tree := mustParse(t, `{"Public":"hello","Secret":{"meta":{"require":{"read_data":["admin"]}},"data":42}}`)
	got := Get(tree, nil, NewRoleSet("public"))
	want := `{"Public":"hello"}`
	if toJSON(t, got) != want {
		t.Errorf("Get() = %s, want %s", toJSON(t, got), want)
	}
}

func TestScenarioAdminRead(t *testing.T) {
	tree := mustParse(t, `{"Public":"hello","Secret":{"meta":{"require":{"read_data":["admin"]}},"data":42}}`)
	got := Get(tree, []string{"Secret"}, RoleSet{})
	if toJSON(t, got) != "42" {
		t.Errorf("Get() = %s, want 42", toJSON(t, got))
	}
}

func TestScenarioMetaVisibility(t *testing.T) {
	tree := mustParse(t, `{"Thing":{"meta":{"require":{"read_data":["x"],"read_meta":["y"]}},"data":1}}`)

	got := Get(tree, []string{"Thing"}, NewRoleSet("x"))
	if toJSON(t, got) != "1" {
		t.Errorf("caller {x}: got %s, want 1", toJSON(t, got))
	}

	got = Get(tree, []string{"Thing"}, NewRoleSet("y"))
	want := `{"data":null,"meta":{"require":{"read_data":["x"],"read_meta":["y"]}}}`
	if toJSON(t, got) != want {
		t.Errorf("caller {y}: got %s, want %s", toJSON(t, got), want)
	}

	got = Get(tree, []string{"Thing"}, NewRoleSet("x", "y"))
	want = `{"data":1,"meta":{"require":{"read_data":["x"],"read_meta":["y"]}}}`
	if toJSON(t, got) != want {
		t.Errorf("caller {x,y}: got %s, want %s", toJSON(t, got), want)
	}
}

func TestP1AdminBypassIsUnredacted(t *testing.T) {
	tree := mustParse(t, `{"a":{"meta":{"require":{"read_data":["z"]}},"data":{"b":1}}}`)
	got := Get(tree, nil, RoleSet{})
	want := `{"a":{"b":1}}`
	if toJSON(t, got) != want {
		t.Errorf("Get() = %s, want %s", toJSON(t, got), want)
	}
}

func TestP3NoPolicyActsAdminLikeForAnyNonEmptyRoles(t *testing.T) {
	tree := mustParse(t, `{"a":{"b":[1,2,3]},"c":"hi"}`)
	for _, roles := range []RoleSet{NewRoleSet("whatever"), NewRoleSet("x", "y")} {
		got := Get(tree, nil, roles)
		want := `{"a":{"b":[1,2,3]},"c":"hi"}`
		if toJSON(t, got) != want {
			t.Errorf("roles=%v: got %s, want %s", roles, toJSON(t, got), want)
		}
	}
}

func TestP4Monotonicity(t *testing.T) {
	tree := mustParse(t, `{"a":{"meta":{"require":{"read_data":["x"]}},"data":1},"b":{"meta":{"require":{"read_data":["y"]}},"data":2}}`)
	small := Get(tree, nil, NewRoleSet("x"))
	big := Get(tree, nil, NewRoleSet("x", "y"))
	if toJSON(t, small) != `{"a":1}` {
		t.Fatalf("small = %s", toJSON(t, small))
	}
	if toJSON(t, big) != `{"a":1,"b":2}` {
		t.Fatalf("big = %s", toJSON(t, big))
	}
}

func TestMissingPathElementYieldsNull(t *testing.T) {
	tree := mustParse(t, `{"a":1}`)
	got := Get(tree, []string{"missing"}, RoleSet{})
	if got.Kind != document.KindNull {
		t.Errorf("Get() kind = %v, want null", got.Kind)
	}
}

func TestUnknownMetaKeyIsIgnored(t *testing.T) {
	tree := mustParse(t, `{"a":{"meta":{"require":{"frobnicate":["x"]}},"data":7}}`)
	got := Get(tree, []string{"a"}, RoleSet{})
	if toJSON(t, got) != "7" {
		t.Errorf("Get() = %s, want 7", toJSON(t, got))
	}
}

func TestDuplicateRolesCollapseAndOrderIsIrrelevant(t *testing.T) {
	tree := mustParse(t, `{"a":{"meta":{"require":{"read_data":["x","x","y"]}},"data":5}}`)
	a := Get(tree, []string{"a"}, NewRoleSet("y", "x"))
	b := Get(tree, []string{"a"}, NewRoleSet("x"))
	if toJSON(t, a) != "5" || toJSON(t, b) != "5" {
		t.Errorf("a=%s b=%s, want both 5", toJSON(t, a), toJSON(t, b))
	}
}

func TestWriteImpliesRead(t *testing.T) {
	tree := mustParse(t, `{"a":{"meta":{"allow":{"write_data":["editor"]}},"data":9}}`)
	got := Get(tree, []string{"a"}, NewRoleSet("editor"))
	if toJSON(t, got) != "9" {
		t.Errorf("Get() = %s, want 9", toJSON(t, got))
	}
}

func TestStructuralVisibilityThroughReadableDescendant(t *testing.T) {
	tree := mustParse(t, `{"outer":{"hidden":{"meta":{"require":{"read_data":["admin"]}},"data":1},"visible":{"meta":{"require":{"read_data":["x"]}},"data":2}}}`)
	got := Get(tree, nil, NewRoleSet("x"))
	want := `{"outer":{"visible":2}}`
	if toJSON(t, got) != want {
		t.Errorf("Get() = %s, want %s", toJSON(t, got), want)
	}
}

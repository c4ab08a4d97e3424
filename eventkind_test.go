package notify

import "testing"

func TestEventKindClassification(t *testing.T) {
	cases := []struct {
		k    EventKind
		want string
	}{
		{Any, "ANY"},
		{Create(CreateFile), "CREATE(FILE)"},
		{Remove(RemoveFolder), "REMOVE(FOLDER)"},
		{Modify(ModifyData(DataContent)), "MODIFY(DATA:CONTENT)"},
		{Modify(ModifyName(RenameBoth)), "MODIFY(NAME:BOTH)"},
		{Modify(ModifyMetadata(MetadataPermissions)), "MODIFY(METADATA:PERMISSIONS)"},
		{Access(AccessOpen(ModeRead)), "ACCESS(OPEN:READ)"},
		{Other("overflow"), "OTHER(overflow)"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestEventKindIsAccessors(t *testing.T) {
	k := Modify(ModifyName(RenameFrom))
	mk, ok := k.IsModify()
	if !ok {
		t.Fatal("IsModify: want true")
	}
	rm, ok := mk.IsName()
	if !ok || rm != RenameFrom {
		t.Fatalf("IsName: got (%v, %v), want (RenameFrom, true)", rm, ok)
	}
	if _, ok := mk.IsData(); ok {
		t.Fatal("IsData on a ModifyName kind: want false")
	}

	if _, ok := Create(CreateFile).IsRemove(); ok {
		t.Fatal("IsRemove on a Create kind: want false")
	}
	if !Any.IsAny() {
		t.Fatal("Any.IsAny(): want true")
	}
	if Create(CreateFile).IsAny() {
		t.Fatal("Create(...).IsAny(): want false")
	}
}

func TestEventAttrs(t *testing.T) {
	e := Event{Kind: Any, Paths: []string{"/tmp/x"}, Attrs: Attrs{"tracker": "42", "flag": FlagRescan}}
	if v, ok := e.Tracker(); !ok || v != "42" {
		t.Fatalf("Tracker() = (%q, %v), want (42, true)", v, ok)
	}
	if v, ok := e.Flag(); !ok || v != FlagRescan {
		t.Fatalf("Flag() = (%q, %v), want (%q, true)", v, ok, FlagRescan)
	}
	if !e.HasPath("/tmp/x") {
		t.Fatal("HasPath: want true")
	}
	if e.HasPath("/tmp/y") {
		t.Fatal("HasPath on unrelated path: want false")
	}

	bare := Event{Kind: Any}
	if _, ok := bare.Tracker(); ok {
		t.Fatal("Tracker on nil Attrs: want false")
	}
}

package notify

import "testing"

func TestEventKindMaskAllows(t *testing.T) {
	cases := []struct {
		name string
		mask EventKindMask
		k    EventKind
		want bool
	}{
		{"any always passes a narrow mask", MaskCreate, Any, true},
		{"create allowed by MaskCreate", MaskCreate, Create(CreateFile), true},
		{"remove blocked by MaskCreate", MaskCreate, Remove(RemoveFile), false},
		{"access blocked by MaskCore", MaskCore, Access(AccessRead), false},
		{"modify data allowed by MaskCore", MaskCore, Modify(ModifyData(DataContent)), true},
		{"modify name routes through MaskModifyName", MaskModifyName, Modify(ModifyName(RenameBoth)), true},
		{"modify name blocked without MaskModifyName", MaskModifyData, Modify(ModifyName(RenameBoth)), false},
		{"other routes through MaskOther", MaskOther, Other("overflow"), true},
		{"empty mask blocks create", 0, Create(CreateFile), false},
		{"MaskAll allows everything", MaskAll, Access(AccessRead), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.mask.Allows(c.k); got != c.want {
				t.Errorf("Allows(%s) with mask %#x = %v, want %v", c.k, c.mask, got, c.want)
			}
		})
	}
}

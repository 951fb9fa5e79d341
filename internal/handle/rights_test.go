package handle

import "testing"

func TestRightsContains(t *testing.T) {
	r := RightTransfer | RightRead
	if !r.Contains(RightRead) || !r.Contains(RightsNone) || !r.Contains(r) {
		t.Fatalf("%s should contain its subsets", r)
	}
	if r.Contains(RightWrite) || r.Contains(r|RightWrite) {
		t.Fatalf("%s should not contain write", r)
	}
}

func TestRightsString(t *testing.T) {
	tests := []struct {
		rights Rights
		want   string
	}{
		{RightsNone, "none"},
		{RightTransfer | RightRead, "transfer|read"},
		{RightInterrupt, "interrupt"},
		{RightWrite | Rights(1<<20), "write|unknown"},
	}
	for _, tt := range tests {
		if got := tt.rights.String(); got != tt.want {
			t.Fatalf("Rights(%#x).String() = %q, want %q", uint32(tt.rights), got, tt.want)
		}
	}
}

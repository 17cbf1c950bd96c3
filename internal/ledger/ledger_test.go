package ledger

import "testing"

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"member":      RoleMember,
		"ADMIN":       RoleAdmin,
		" superadmin": RoleSuperadmin,
	}
	for input, want := range cases {
		got, ok := ParseRole(input)
		if !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", input, got, ok)
		}
	}

	for _, input := range []string{"", "owner", "root", "admin1"} {
		if _, ok := ParseRole(input); ok {
			t.Fatalf("ParseRole(%q) should fail", input)
		}
	}
}

package session

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"main", "work", "a", "user_2", "long-name-with-dashes"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "Upper", "has space", "semi;colon", "dot.name", "x/y"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve(override) = %q, want override", got)
	}
}

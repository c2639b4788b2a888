package profile

import "testing"

func TestValidateName(t *testing.T) {
	valid := []string{"default", "work", "team-a", "p_01"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "UPPER", "has space", "a/b", "x.y"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestPathsUnderProfileDir(t *testing.T) {
	dir := Dir("work")
	for _, p := range []string{LockPath("work"), ArchiveDBPath("work"), LogPath("work"), ConfigPath("work"), QRDir("work")} {
		if len(p) <= len(dir) || p[:len(dir)] != dir {
			t.Errorf("path %q is not under profile dir %q", p, dir)
		}
	}
}

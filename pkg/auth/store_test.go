package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/modoterra/opsconsole/pkg/core"
)

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "session.yaml"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.LoggedIn() {
		t.Error("empty store should not be logged in")
	}
	if _, err := s.RequireToken(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("RequireToken: got %v, want ErrNotLoggedIn", err)
	}
	if s.User() != nil {
		t.Error("expected nil user")
	}
}

func TestSetSessionPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	user := &User{ID: 3, Username: "ops", Roles: []string{"operator"}, Permissions: []string{"task_execution:read"}}
	if err := s.SetSession("tok-123", user); err != nil {
		t.Fatalf("set session: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("session file mode: got %o, want 600", perm)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Token() != "tok-123" {
		t.Errorf("token: got %q", reloaded.Token())
	}
	u := reloaded.User()
	if u == nil || u.Username != "ops" || len(u.Permissions) != 1 {
		t.Errorf("user not restored: %+v", u)
	}
}

func TestUserReturnsCopy(t *testing.T) {
	s, _ := Open(filepath.Join(t.TempDir(), "session.yaml"))
	if err := s.SetSession("t", &User{Username: "a", Permissions: []string{"tag:read"}}); err != nil {
		t.Fatal(err)
	}
	u := s.User()
	u.Permissions[0] = "*"
	if s.Can(core.ResourceRole, core.ActionDelete) {
		t.Error("mutating the returned user must not change the store")
	}
}

func TestClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	s, _ := Open(path)
	if err := s.SetSession("t", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if s.LoggedIn() {
		t.Error("still logged in after clear")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("session file should be removed, stat err: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestClearKeepsSessionWhenRemoveFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	s, _ := Open(path)
	if err := s.SetSession("t", nil); err != nil {
		t.Fatal(err)
	}
	// A non-empty directory in place of the file cannot be removed.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(path, "keep"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err == nil {
		t.Fatal("expected remove error")
	}
	if !s.LoggedIn() || s.Token() != "t" {
		t.Error("session should survive a failed clear")
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("token: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestCan(t *testing.T) {
	tests := []struct {
		name     string
		user     *User
		resource core.Resource
		action   core.Action
		want     bool
	}{
		{"no user", nil, core.ResourceProject, core.ActionRead, false},
		{"admin flag", &User{IsAdmin: true}, core.ResourceUser, core.ActionDelete, true},
		{"admin role", &User{Roles: []string{"viewer", AdminRole}}, core.ResourceAuditLog, core.ActionExport, true},
		{"star", &User{Permissions: []string{"*"}}, core.ResourceSSHKey, core.ActionCreate, true},
		{"exact", &User{Permissions: []string{"audit_log:export"}}, core.ResourceAuditLog, core.ActionExport, true},
		{"exact other action", &User{Permissions: []string{"audit_log:read"}}, core.ResourceAuditLog, core.ActionExport, false},
		{"resource wildcard", &User{Permissions: []string{"project:*"}}, core.ResourceProject, core.ActionDelete, true},
		{"wildcard other resource", &User{Permissions: []string{"project:*"}}, core.ResourceEnvironment, core.ActionRead, false},
		{"malformed ignored", &User{Permissions: []string{"garbage", "tag:read"}}, core.ResourceTag, core.ActionRead, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := Open(filepath.Join(t.TempDir(), "session.yaml"))
			if err := s.SetSession("t", tt.user); err != nil {
				t.Fatal(err)
			}
			if got := s.Can(tt.resource, tt.action); got != tt.want {
				t.Errorf("Can(%s, %s) = %v, want %v", tt.resource, tt.action, got, tt.want)
			}
		})
	}
}

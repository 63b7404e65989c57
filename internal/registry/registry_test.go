package registry

import (
	"errors"
	"path/filepath"
	"testing"

	"notifyd/internal/policy"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "nested", "registry.db")
	r, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
}

func TestCloseNilDB(t *testing.T) {
	r := &Registry{db: nil}
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestRegisterAllocatesScopedUIDs(t *testing.T) {
	r := openTestRegistry(t)

	first, err := r.Register("org.mail.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.UID != 10000 {
		t.Errorf("first uid: expected 10000, got %d", first.UID)
	}

	second, err := r.Register("net.chat.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if second.UID != 10001 {
		t.Errorf("second uid: expected 10001, got %d", second.UID)
	}

	// A second scope allocates from its own block.
	other, err := r.Register("org.mail.app", 10, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if other.UID != policy.UIDFor(10, 10000) {
		t.Errorf("scoped uid: expected %d, got %d", policy.UIDFor(10, 10000), other.UID)
	}
	if policy.UserScopeOf(other.UID) != 10 {
		t.Errorf("uid %d does not decode back to scope 10", other.UID)
	}
}

func TestRegisterIsIdempotentOnUID(t *testing.T) {
	r := openTestRegistry(t)

	first, err := r.Register("org.mail.app", 0, 1)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	again, err := r.Register("org.mail.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if again.UID != first.UID {
		t.Errorf("uid changed on re-register: %d -> %d", first.UID, again.UID)
	}
	if again.TargetGen != 2 {
		t.Errorf("target generation not refreshed: got %d", again.TargetGen)
	}
}

func TestRegisterEmptyPackage(t *testing.T) {
	r := openTestRegistry(t)
	if _, err := r.Register("", 0, 1); err == nil {
		t.Error("expected error for empty package name")
	}
}

func TestResolveUID(t *testing.T) {
	r := openTestRegistry(t)

	app, err := r.Register("org.mail.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	uid, err := r.ResolveUID("org.mail.app", 0)
	if err != nil {
		t.Fatalf("ResolveUID failed: %v", err)
	}
	if uid != app.UID {
		t.Errorf("expected uid %d, got %d", app.UID, uid)
	}

	if _, err := r.ResolveUID("org.mail.app", 10); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("expected ErrUnknownPackage for wrong scope, got %v", err)
	}
	if _, err := r.ResolveUID("com.absent", 0); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestTargetGeneration(t *testing.T) {
	r := openTestRegistry(t)

	if _, err := r.Register("org.mail.app", 0, 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	gen, err := r.TargetGeneration("org.mail.app", 0)
	if err != nil {
		t.Fatalf("TargetGeneration failed: %v", err)
	}
	if gen != 1 {
		t.Errorf("expected generation 1, got %d", gen)
	}

	if _, err := r.TargetGeneration("com.absent", 0); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := openTestRegistry(t)

	if _, err := r.Register("org.mail.app", 0, 2); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Remove("org.mail.app", 0); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.ResolveUID("org.mail.app", 0); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("expected ErrUnknownPackage after removal, got %v", err)
	}

	// Removing an unknown package is a no-op.
	if err := r.Remove("com.absent", 0); err != nil {
		t.Errorf("Remove of unknown package should not error: %v", err)
	}
}

func TestRemoveDoesNotReuseUIDsImmediately(t *testing.T) {
	r := openTestRegistry(t)

	if _, err := r.Register("org.mail.app", 0, 2); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := r.Register("net.chat.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Remove("org.mail.app", 0); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	third, err := r.Register("dev.fresh.app", 0, 2)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if third.UID <= second.UID {
		t.Errorf("expected fresh uid above %d, got %d", second.UID, third.UID)
	}
}

func TestList(t *testing.T) {
	r := openTestRegistry(t)

	for _, pkg := range []string{"net.chat.app", "org.mail.app", "dev.tool.app"} {
		if _, err := r.Register(pkg, 0, 2); err != nil {
			t.Fatalf("Register %s failed: %v", pkg, err)
		}
	}
	if _, err := r.Register("org.mail.app", 10, 2); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	apps, err := r.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(apps) != 3 {
		t.Fatalf("expected 3 apps in scope 0, got %d", len(apps))
	}
	for i, want := range []string{"dev.tool.app", "net.chat.app", "org.mail.app"} {
		if apps[i].Pkg != want {
			t.Errorf("apps[%d]: expected %s, got %s", i, want, apps[i].Pkg)
		}
	}
}

func TestRegistrySatisfiesResolver(t *testing.T) {
	var _ policy.Resolver = (*Registry)(nil)
}

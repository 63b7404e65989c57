package secure

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// =============================================================================
// Key Management Tests
// =============================================================================

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(key))
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("second GenerateKey failed: %v", err)
	}
	if bytes.Equal(key, key2) {
		t.Error("two generated keys should differ")
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "policy_hmac.key")

	key1, err := LoadOrCreateKey(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateKey failed: %v", err)
	}
	if len(key1) != KeySize {
		t.Errorf("expected %d byte key, got %d", KeySize, len(key1))
	}

	// Key file exists with owner-only permissions
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %04o", info.Mode().Perm())
	}

	// Second load returns the same key
	key2, err := LoadOrCreateKey(keyPath)
	if err != nil {
		t.Fatalf("second LoadOrCreateKey failed: %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("reloaded key should match the generated key")
	}
}

func TestLoadOrCreateKeyRejectsLooseFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}

	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "loose.key")

	if err := os.WriteFile(keyPath, bytes.Repeat([]byte{0xAB, 0xCD}, 16), 0644); err != nil {
		t.Fatalf("write key: %v", err)
	}

	_, err := LoadOrCreateKey(keyPath)
	if err == nil {
		t.Error("expected error for a group-readable key file")
	}
}

func TestDeriveKey(t *testing.T) {
	master := bytes.Repeat([]byte{0x42, 0x17}, 16)

	a, err := DeriveKey(master, "policy-hmac")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	b, err := DeriveKey(master, "policy-hmac")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("same label should derive the same key")
	}

	c, err := DeriveKey(master, "other-label")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(a, c) {
		t.Error("different labels should derive different keys")
	}
}

func TestDeriveKeyRejectsShortMaster(t *testing.T) {
	_, err := DeriveKey([]byte("short"), "policy-hmac")
	if !errors.Is(err, ErrWeakKey) {
		t.Errorf("expected ErrWeakKey, got %v", err)
	}
}

func TestValidateKeyStrength(t *testing.T) {
	if err := ValidateKeyStrength(bytes.Repeat([]byte{0x5A, 0xC3}, 16)); err != nil {
		t.Errorf("varied key should validate: %v", err)
	}
	if err := ValidateKeyStrength(make([]byte, 32)); !errors.Is(err, ErrWeakKey) {
		t.Errorf("all-zero key should be weak, got %v", err)
	}
	if err := ValidateKeyStrength([]byte("tiny")); !errors.Is(err, ErrWeakKey) {
		t.Errorf("short key should be weak, got %v", err)
	}
}

func TestWipe(t *testing.T) {
	data := []byte("sensitive data that should be wiped")
	Wipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d was not wiped: got %d, want 0", i, b)
		}
	}

	// Should not panic on empty slices
	Wipe(nil)
	Wipe([]byte{})
}

func TestConstantTimeCompare(t *testing.T) {
	tests := []struct {
		a, b  []byte
		equal bool
	}{
		{[]byte("hello"), []byte("hello"), true},
		{[]byte("hello"), []byte("world"), false},
		{[]byte("hello"), []byte("hell"), false},
		{[]byte{}, []byte{}, true},
		{nil, nil, true},
		{[]byte("a"), nil, false},
	}

	for _, tt := range tests {
		got := ConstantTimeCompare(tt.a, tt.b)
		if got != tt.equal {
			t.Errorf("ConstantTimeCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.equal)
		}
	}
}

// =============================================================================
// Atomic Write Tests
// =============================================================================

func TestWriteAtomic(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	content := []byte("<ranking version=\"1\"></ranking>")

	if err := WriteAtomic(path, content, 0600); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch after atomic write")
	}

	// No temp files left behind
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteAtomicReplacesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")

	if err := WriteAtomic(path, []byte("old"), 0600); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := WriteAtomic(path, []byte("new"), 0600); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	got, _ := os.ReadFile(path)
	if string(got) != "new" {
		t.Errorf("expected replaced content, got %q", got)
	}
}

func TestFileWriterAbort(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")

	w, err := NewFileWriter(path, 0600)
	if err != nil {
		t.Fatalf("NewFileWriter failed: %v", err)
	}
	if _, err := w.Write([]byte("doomed")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("aborted write should not produce the destination file")
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("aborted write left %d files behind", len(entries))
	}
}

func TestReadCheckedRejectsLoosePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "loose.xml")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := ReadChecked(path, 0)
	if !errors.Is(err, ErrInsecurePermissions) {
		t.Errorf("expected ErrInsecurePermissions, got %v", err)
	}
}

func TestReadCheckedRejectsOversizedFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "big.xml")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 128), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := ReadChecked(path, 64)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

// =============================================================================
// Path Validation Tests
// =============================================================================

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/tmp/policy.xml", false},
		{"../../../etc/passwd", true},      // Path traversal
		{"/tmp/../../../etc/passwd", true}, // Path traversal
		{"/tmp/policy\x00.xml", true},      // Null byte
		{"", true},                         // Empty
	}

	for _, tt := range tests {
		_, err := ValidatePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
		}
	}
}

// =============================================================================
// Sidecar Tests
// =============================================================================

func TestSealAndOpen(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	master := bytes.Repeat([]byte{0x11, 0x7F}, 16)
	content := []byte("<ranking version=\"1\"><package name=\"com.example\" importance=\"4\"/></ranking>")

	if err := Seal(path, content, master); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := os.Stat(SidecarPath(path)); err != nil {
		t.Fatalf("sidecar should exist: %v", err)
	}

	got, err := Open(path, master, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch after seal/open roundtrip")
	}
}

func TestOpenDetectsContentTamper(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	master := bytes.Repeat([]byte{0x11, 0x7F}, 16)

	if err := Seal(path, []byte("<ranking version=\"1\"/>"), master); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	// Flip the version attribute behind the daemon's back
	if err := os.WriteFile(path, []byte("<ranking version=\"9\"/>"), 0600); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, err := Open(path, master, 0)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestOpenDetectsSidecarTamper(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	master := bytes.Repeat([]byte{0x11, 0x7F}, 16)

	if err := Seal(path, []byte("<ranking version=\"1\"/>"), master); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if err := os.WriteFile(SidecarPath(path), []byte("deadbeef\n"), 0600); err != nil {
		t.Fatalf("tamper sidecar: %v", err)
	}

	_, err := Open(path, master, 0)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestOpenMissingSidecar(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	master := bytes.Repeat([]byte{0x11, 0x7F}, 16)

	if err := WriteAtomic(path, []byte("<ranking version=\"1\"/>"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Open(path, master, 0)
	if !errors.Is(err, ErrMissingSidecar) {
		t.Errorf("expected ErrMissingSidecar, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "policy.xml")
	master := bytes.Repeat([]byte{0x11, 0x7F}, 16)

	if err := Seal(path, []byte("<ranking version=\"1\"/>"), master); err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if err := Verify(path, master, 0); err != nil {
		t.Errorf("Verify should pass on an untouched file: %v", err)
	}

	// Wrong master key must fail verification
	wrong := bytes.Repeat([]byte{0x22, 0x7F}, 16)
	if err := Verify(path, wrong, 0); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt with wrong key, got %v", err)
	}
}

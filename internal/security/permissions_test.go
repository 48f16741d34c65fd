// internal/security/permissions_test.go
package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDirectoryPermissions(t *testing.T) {
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0700, false},
		{0750, false},
		{0755, false},
		{0770, true},
		{0777, true},
		{0702, true},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		if err := os.Chmod(dir, tt.mode); err != nil {
			t.Fatalf("chmod failed: %v", err)
		}
		err := ValidateDirectoryPermissions(dir)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %04o: error = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}
}

func TestValidateDirectoryPermissions_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDirectoryPermissions(path); err == nil {
		t.Error("expected error for a regular file")
	}
}

func TestValidateDirectoryPermissions_NonexistentDir(t *testing.T) {
	if err := ValidateDirectoryPermissions("/nonexistent/path/that/does/not/exist"); err == nil {
		t.Error("expected error for nonexistent directory")
	}
}

func TestValidateFilePermissions(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "trigger.yaml")
	if err := os.WriteFile(filePath, []byte("name: x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := ValidateFilePermissions(filePath); err != nil {
		t.Errorf("expected no error for 0644 file, got: %v", err)
	}

	if err := os.Chmod(filePath, 0666); err != nil {
		t.Fatal(err)
	}
	if err := ValidateFilePermissions(filePath); err == nil {
		t.Error("expected error for world-writable file")
	}
}

func TestValidateTriggersDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0700); err != nil {
		t.Fatal(err)
	}
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(good, []byte("name: good"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("name: bad"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := ValidateTriggersDir(dir); err != nil {
		t.Fatalf("expected clean directory, got %v", err)
	}

	if err := os.Chmod(bad, 0662); err != nil {
		t.Fatal(err)
	}
	if err := ValidateTriggersDir(dir); err == nil {
		t.Error("expected error for group-writable definition")
	}
}

// internal/security/permissions.go
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Trigger definitions name commands the daemon will run, so anyone able to
// write them can run code as the daemon user.

// ValidateDirectoryPermissions rejects a directory that is writable by
// group or others.
func ValidateDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking directory permissions: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	mode := info.Mode().Perm()
	if mode&0022 != 0 {
		return fmt.Errorf("directory %s is writable by group or others (mode %04o), expected 0700 or 0755", path, mode)
	}
	return nil
}

// ValidateFilePermissions rejects a file that is writable by group or others.
func ValidateFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	mode := info.Mode().Perm()
	if mode&0022 != 0 {
		return fmt.Errorf("file %s is writable by group or others (mode %04o)", path, mode)
	}
	return nil
}

// ValidateTriggersDir checks the directory and every YAML file in it.
func ValidateTriggersDir(dir string) error {
	if err := ValidateDirectoryPermissions(dir); err != nil {
		return err
	}
	var errs []error
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := ValidateFilePermissions(m); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

package augment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// skipDirs are never captured in a backup: VCS metadata and our own state.
var skipDirs = map[string]bool{
	".git":     true,
	".labcoat": true,
}

// BackupCode copies the project tree under root into a fresh directory
// beneath backupDir, named by label and a timestamp. Returns the backup
// path. The backup directory itself is never copied into the backup.
func BackupCode(root, backupDir, label string) (string, error) {
	absBackup, err := filepath.Abs(backupDir)
	if err != nil {
		return "", fmt.Errorf("resolve backup dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s", label, time.Now().UTC().Format("20060102-150405"))
	dest := filepath.Join(backupDir, name)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if info.IsDir() {
			if skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			if abs, err := filepath.Abs(path); err == nil && strings.HasPrefix(abs, absBackup+string(filepath.Separator)) {
				return filepath.SkipDir
			}
			if abs, _ := filepath.Abs(path); abs == absBackup {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dest, rel), info.Mode().Perm())
		}

		return copyFile(path, filepath.Join(dest, rel), info.Mode().Perm())
	})
	if err != nil {
		return "", fmt.Errorf("backup %s: %w", root, err)
	}

	return dest, nil
}

// RestoreCode copies a backup tree back over root, overwriting files in
// place. Files created after the backup are left alone.
func RestoreCode(backupPath, root string) error {
	err := filepath.Walk(backupPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(backupPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(root, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
	if err != nil {
		return fmt.Errorf("restore from %s: %w", backupPath, err)
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

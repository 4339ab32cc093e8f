// Package backup keeps timestamped copies of the install directory taken
// before an update is applied.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
)

// IDFormat is the layout of backup IDs and directory names.
const IDFormat = "2006-01-02-150405"

// manifestName is the file inside each backup directory describing it.
const manifestName = "manifest.json"

// Backup represents a single backup snapshot.
type Backup struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Source    string    `json:"source" yaml:"source"`
	Files     []string  `json:"files" yaml:"files"`
}

// BackupInfo provides summary information about a backup for listing.
type BackupInfo struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	Files     int       `json:"files" yaml:"files"`
	Size      int64     `json:"size" yaml:"size"`
}

// Manager handles backup operations.
type Manager struct {
	backupDir string
	now       func() time.Time
	copy      func(src, dst string) error
}

// NewManagerWithDir creates a backup manager storing snapshots under backupDir.
func NewManagerWithDir(backupDir string) *Manager {
	return &Manager{
		backupDir: backupDir,
		now:       time.Now,
		copy:      copyFile,
	}
}

// BackupDir returns the backup directory path.
func (m *Manager) BackupDir() string {
	return m.backupDir
}

// Create copies every regular file at the top level of srcDir into a new
// snapshot directory. Names in exclude and the backup directory itself are
// skipped. Per-file copy failures do not stop the backup: the snapshot is
// returned together with the combined error.
func (m *Manager) Create(srcDir, note string, exclude ...string) (*Backup, error) {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", srcDir, err)
	}

	now := m.now()
	id, dir, err := m.reserve(now)
	if err != nil {
		return nil, err
	}

	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	backup := &Backup{
		ID:        id,
		CreatedAt: now,
		Note:      note,
		Source:    srcDir,
		Files:     []string{},
	}

	var result *multierror.Error
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || skip[name] {
			continue
		}
		if err := m.copy(filepath.Join(srcDir, name), filepath.Join(dir, name)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		backup.Files = append(backup.Files, name)
	}

	if err := writeManifest(dir, backup); err != nil {
		result = multierror.Append(result, err)
	}

	return backup, result.ErrorOrNil()
}

// reserve creates a fresh snapshot directory for now. Snapshots taken within
// the same second get a numeric suffix.
func (m *Manager) reserve(now time.Time) (string, string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	base := now.Format(IDFormat)
	id := base
	for i := 1; ; i++ {
		dir := filepath.Join(m.backupDir, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("failed to create backup %s: %w", id, err)
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
}

func writeManifest(dir string, backup *Backup) error {
	data, err := json.MarshalIndent(backup, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}

// copyFile copies src to dst, keeping the permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst) // Clean up partial copy
		return err
	}
	return out.Close()
}

// List returns all backups sorted by creation time (newest first).
func (m *Manager) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []BackupInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		backup, err := m.load(entry.Name())
		if err != nil {
			continue
		}

		backups = append(backups, BackupInfo{
			ID:        backup.ID,
			CreatedAt: backup.CreatedAt,
			Note:      backup.Note,
			Files:     len(backup.Files),
			Size:      dirSize(filepath.Join(m.backupDir, entry.Name())),
		})
	}

	// Sort by creation time, newest first
	sort.SliceStable(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].ID > backups[j].ID
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

func dirSize(dir string) int64 {
	var total int64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
	}
	return total
}

// Get retrieves a backup by ID. Use "latest" to get the most recent backup.
func (m *Manager) Get(id string) (*Backup, error) {
	if id == "latest" {
		backups, err := m.List()
		if err != nil {
			return nil, err
		}
		if len(backups) == 0 {
			return nil, fmt.Errorf("no backups found")
		}
		id = backups[0].ID
	}

	return m.load(id)
}

// Restore copies the files of a backup back into dstDir, overwriting what is
// there. It returns the restored file names.
func (m *Manager) Restore(id, dstDir string) ([]string, error) {
	backup, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	var restored []string
	var result *multierror.Error
	for _, name := range backup.Files {
		src := filepath.Join(m.backupDir, backup.ID, name)
		if err := m.copy(src, filepath.Join(dstDir, name)); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		restored = append(restored, name)
	}

	return restored, result.ErrorOrNil()
}

// Delete removes a backup by ID.
func (m *Manager) Delete(id string) error {
	if !validID(id) {
		return fmt.Errorf("invalid backup id: %q", id)
	}
	dir := filepath.Join(m.backupDir, id)

	if _, err := os.Stat(filepath.Join(dir, manifestName)); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", id)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}

	return nil
}

// validID reports whether id names a single entry directly under the backup
// directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

// load reads and parses the manifest of backup id.
func (m *Manager) load(id string) (*Backup, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid backup id: %q", id)
	}

	data, err := os.ReadFile(filepath.Join(m.backupDir, id, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("backup not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}

	var backup Backup
	if err := json.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("failed to parse backup manifest: %w", err)
	}

	return &backup, nil
}

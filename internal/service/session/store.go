package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/model/intake"
)

const fileExt = ".json"

// Config controls where and how session documents are written.
type Config struct {
	Dir       string
	Overwrite bool
}

// Store persists one JSON document per patient under a directory.
// It holds no in-memory state; concurrent writers to the same file race and
// the last rename wins.
type Store struct {
	dir       string
	overwrite bool
	now       func() time.Time
}

// NewStore returns a file store rooted at cfg.Dir.
func NewStore(cfg Config) *Store {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join("data", "sessions")
	}
	return &Store{
		dir:       dir,
		overwrite: cfg.Overwrite,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, mainly for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the document path for a patient id.
func (s *Store) PathFor(patientID string) (string, error) {
	if err := ValidatePatientID(patientID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, patientID+fileExt), nil
}

// ValidatePatientID rejects ids that cannot be used as a file name.
func ValidatePatientID(patientID string) error {
	switch {
	case strings.TrimSpace(patientID) == "":
		return fmt.Errorf("%w: empty", intake.ErrInvalidPatientID)
	case patientID == "." || patientID == "..",
		strings.ContainsAny(patientID, `/\`),
		strings.ContainsRune(patientID, 0):
		return fmt.Errorf("%w: %q", intake.ErrInvalidPatientID, patientID)
	}
	return nil
}

// Exists reports whether a document is stored for patientID.
func (s *Store) Exists(patientID string) (bool, error) {
	path, err := s.PathFor(patientID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Create provisions a new active session and writes its initial document.
// An existing document yields ErrDuplicateSession unless the store was
// configured to overwrite.
func (s *Store) Create(_ context.Context, patientID, protocol string) (*intake.Session, error) {
	path, err := s.PathFor(patientID)
	if err != nil {
		return nil, err
	}

	exists, err := s.Exists(patientID)
	if err != nil {
		return nil, err
	}
	if exists && !s.overwrite {
		return nil, fmt.Errorf("%w: %s", intake.ErrDuplicateSession, path)
	}

	sess := intake.NewSession(patientID, protocol, s.now())
	if err := s.Save(sess, path); err != nil {
		return nil, err
	}
	klog.V(2).Infof("[store] created session=%s protocol=%s overwrite=%t", patientID, protocol, exists)
	return sess, nil
}

// Load reads and validates the document at path.
func (s *Store) Load(path string) (*intake.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", intake.ErrSessionNotFound, path)
		}
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}

	sess, err := intake.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return sess, nil
}

// LoadByID loads the document stored for patientID.
func (s *Store) LoadByID(patientID string) (*intake.Session, error) {
	path, err := s.PathFor(patientID)
	if err != nil {
		return nil, err
	}
	return s.Load(path)
}

// Save writes sess to path through a temporary file and a rename, so readers
// see either the previous document or the new one.
func (s *Store) Save(sess *intake.Session, path string) error {
	data, err := intake.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.PatientID, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("save session %s: %w", sess.PatientID, err)
	}
	klog.V(4).Infof("[store] saved session=%s status=%s turns=%d path=%s", sess.PatientID, sess.Status, len(sess.History), path)
	return nil
}

// SaveSession writes sess to its default path.
func (s *Store) SaveSession(sess *intake.Session) error {
	path, err := s.PathFor(sess.PatientID)
	if err != nil {
		return err
	}
	return s.Save(sess, path)
}

// Summary is a listing entry.
type Summary struct {
	PatientID string        `json:"patient_id"`
	Protocol  string        `json:"protocol"`
	Status    intake.Status `json:"status"`
	Turns     int           `json:"turns"`
	UpdatedAt time.Time     `json:"updated_at"`
	Path      string        `json:"path"`
}

// ListResult contains listing entries and documents that failed to load.
type ListResult struct {
	Summaries []Summary
	Warnings  []error
}

// List enumerates stored sessions whose patient id matches the glob pattern.
// An empty pattern matches everything. Results are ordered by most recent
// update first.
func (s *Store) List(match string) (ListResult, error) {
	var matcher glob.Glob
	if match != "" {
		g, err := glob.Compile(match)
		if err != nil {
			return ListResult{}, fmt.Errorf("invalid match pattern %q: %w", match, err)
		}
		matcher = g
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ListResult{}, nil
		}
		return ListResult{}, err
	}

	var result ListResult
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if matcher != nil && !matcher.Match(id) {
			continue
		}

		path := filepath.Join(s.dir, name)
		sess, err := s.Load(path)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
			continue
		}
		result.Summaries = append(result.Summaries, Summary{
			PatientID: sess.PatientID,
			Protocol:  sess.Protocol,
			Status:    sess.Status,
			Turns:     len(sess.History),
			UpdatedAt: sess.UpdatedAt,
			Path:      path,
		})
	}

	sort.SliceStable(result.Summaries, func(i, j int) bool {
		return result.Summaries[i].UpdatedAt.After(result.Summaries[j].UpdatedAt)
	})
	return result, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

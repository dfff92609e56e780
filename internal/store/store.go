package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/platform/logger"
)

// ErrNotFound is returned when an artifact or its containing directory does
// not exist on disk. Whether that means "never generated" or "deleted after
// QA" is decided by the caller from the job record, not from the filesystem.
var ErrNotFound = errors.New("card artifact not found")

type ArtifactKind string

const (
	ArtifactFrontImage  ArtifactKind = "front_image"
	ArtifactBackImage   ArtifactKind = "back_image"
	ArtifactFrontPDF    ArtifactKind = "front_pdf"
	ArtifactBackPDF     ArtifactKind = "back_pdf"
	ArtifactCombinedPDF ArtifactKind = "combined_pdf"
)

// artifactFilenames maps artifact kinds to their fixed on-disk names inside
// a job directory.
var artifactFilenames = map[ArtifactKind]string{
	ArtifactFrontImage:  "front.png",
	ArtifactBackImage:   "back.png",
	ArtifactFrontPDF:    "front.pdf",
	ArtifactBackPDF:     "back.pdf",
	ArtifactCombinedPDF: "combined.pdf",
}

func (k ArtifactKind) Valid() bool {
	_, ok := artifactFilenames[k]
	return ok
}

func (k ArtifactKind) Filename() string {
	return artifactFilenames[k]
}

// CleanupResult reports what a DeleteAll call removed, for the job's audit
// metadata.
type CleanupResult struct {
	FilesDeleted    int   `json:"files_deleted"`
	BytesFreed      int64 `json:"bytes_freed"`
	EmptyDirsPruned int   `json:"empty_dirs_pruned"`
}

// Statistics summarizes on-disk usage for operational dashboards.
type Statistics struct {
	TotalBytes     int64 `json:"total_bytes"`
	TotalFiles     int   `json:"total_files"`
	JobDirectories int   `json:"job_directories"`
}

// Store persists generated card artifacts under a date-partitioned layout:
// <root>/YYYY/MM/DD/<job_id>/<artifact>. The filesystem is a cache of the
// job record's files_generated / files_deleted_after_qa flags, never the
// source of truth.
type Store struct {
	root string
	log  *logger.Logger
}

func New(root string, log *logger.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("card store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create card store root: %w", err)
	}
	return &Store{root: root, log: log}, nil
}

func (s *Store) Root() string {
	return s.root
}

// JobDir returns the directory holding all artifacts of one print job.
func (s *Store) JobDir(jobID uuid.UUID, createdAt time.Time) string {
	return filepath.Join(
		s.root,
		createdAt.Format("2006"),
		createdAt.Format("01"),
		createdAt.Format("02"),
		jobID.String(),
	)
}

// Save writes one artifact, creating intermediate directories as needed.
// Saving the same artifact again replaces the previous content. Returns the
// path relative to the store root.
func (s *Store) Save(jobID uuid.UUID, createdAt time.Time, kind ArtifactKind, data []byte) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}

	dir := s.JobDir(jobID, createdAt)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}

	path := filepath.Join(dir, kind.Filename())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", kind, err)
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("failed to relativize path: %w", err)
	}

	s.log.Debug("saved card artifact", "job_id", jobID, "kind", kind, "bytes", len(data))
	return rel, nil
}

// Retrieve reads one artifact. Returns ErrNotFound if the artifact or its
// directory is missing; the caller distinguishes "never existed" from
// "deleted by policy" using the job record.
func (s *Store) Retrieve(jobID uuid.UUID, createdAt time.Time, kind ArtifactKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}

	path := filepath.Join(s.JobDir(jobID, createdAt), kind.Filename())
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", kind, err)
	}
	return data, nil
}

// DeleteAll removes the job directory recursively, then prunes now-empty
// day/month/year parents up to the store root. Calling it on a missing
// directory is a no-op with zero counts.
func (s *Store) DeleteAll(jobID uuid.UUID, createdAt time.Time) (CleanupResult, error) {
	var res CleanupResult
	dir := s.JobDir(jobID, createdAt)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return res, nil
		}
		return res, fmt.Errorf("failed to stat job directory: %w", err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("job path %s is not a directory", dir)
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			res.FilesDeleted++
			res.BytesFreed += fi.Size()
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to size job directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return res, fmt.Errorf("failed to remove job directory: %w", err)
	}

	res.EmptyDirsPruned = s.pruneEmptyParents(filepath.Dir(dir))

	s.log.Info("deleted card files",
		"job_id", jobID,
		"files_deleted", res.FilesDeleted,
		"bytes_freed", res.BytesFreed,
		"dirs_pruned", res.EmptyDirsPruned)

	return res, nil
}

// pruneEmptyParents walks upward from the day directory removing empty
// ancestors, stopping at the first non-empty one or at the store root. The
// partition is three levels deep (day, month, year), so at most three
// removals happen.
func (s *Store) pruneEmptyParents(dir string) int {
	pruned := 0
	current := dir

	for level := 0; level < 3; level++ {
		if current == s.root || current == "." || current == string(filepath.Separator) {
			break
		}

		entries, err := os.ReadDir(current)
		if err != nil || len(entries) > 0 {
			break
		}

		if err := os.Remove(current); err != nil {
			s.log.Warn("failed to prune empty directory", "dir", current, "error", err)
			break
		}
		pruned++
		current = filepath.Dir(current)
	}

	return pruned
}

// VerifyRemoved re-stats the job directory after cleanup. A false result is
// an operational alert for the maintenance sweep, not a hard failure of the
// transition that triggered the cleanup.
func (s *Store) VerifyRemoved(jobID uuid.UUID, createdAt time.Time) bool {
	_, err := os.Stat(s.JobDir(jobID, createdAt))
	return os.IsNotExist(err)
}

// VerifyPresent reports whether every artifact of the job exists on disk.
func (s *Store) VerifyPresent(jobID uuid.UUID, createdAt time.Time) bool {
	dir := s.JobDir(jobID, createdAt)
	for _, name := range artifactFilenames {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// JobDirRef identifies one on-disk job directory found by WalkJobDirs.
type JobDirRef struct {
	JobID uuid.UUID
	Path  string
}

// WalkJobDirs visits every job directory under the date partitions, calling
// fn for each. The walk is restartable (each call starts fresh) and stops
// early if fn or the context returns an error. Entries whose final path
// element is not a job id are skipped.
func (s *Store) WalkJobDirs(ctx context.Context, fn func(ref JobDirRef) error) error {
	years, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store root: %w", err)
	}

	for _, year := range years {
		if !year.IsDir() {
			continue
		}
		months, err := os.ReadDir(filepath.Join(s.root, year.Name()))
		if err != nil {
			continue
		}
		for _, month := range months {
			if !month.IsDir() {
				continue
			}
			days, err := os.ReadDir(filepath.Join(s.root, year.Name(), month.Name()))
			if err != nil {
				continue
			}
			for _, day := range days {
				if !day.IsDir() {
					continue
				}
				dayDir := filepath.Join(s.root, year.Name(), month.Name(), day.Name())
				jobs, err := os.ReadDir(dayDir)
				if err != nil {
					continue
				}
				for _, job := range jobs {
					if err := ctx.Err(); err != nil {
						return err
					}
					if !job.IsDir() {
						continue
					}
					id, err := uuid.Parse(job.Name())
					if err != nil {
						continue
					}
					ref := JobDirRef{JobID: id, Path: filepath.Join(dayDir, job.Name())}
					if err := fn(ref); err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

// Stats walks the whole store and totals bytes, files, and job directories.
func (s *Store) Stats(ctx context.Context) (Statistics, error) {
	var stats Statistics

	err := s.WalkJobDirs(ctx, func(ref JobDirRef) error {
		stats.JobDirectories++
		entries, err := os.ReadDir(ref.Path)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.IsDir() {
				continue
			}
			stats.TotalFiles++
			stats.TotalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	return stats, nil
}

package images

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/pkg/logger"
)

const listPattern = "chart_*.png"

var ErrInvalidName = errors.New("invalid image name")

// Repository is a read-only view over the flat chart image directory.
type Repository struct {
	fs  afero.Fs
	dir string
}

func NewRepository(fs afero.Fs, dir string) *Repository {
	return &Repository{fs: fs, dir: dir}
}

func (r *Repository) Dir() string {
	return r.dir
}

// FindFor returns the images for one question and logical model name. An
// empty result is not an error.
func (r *Repository) FindFor(questionID int, modelName string) ([]string, error) {
	base, rag := SplitModelName(modelName)
	name := Format(questionID, base, rag)

	matches, err := r.glob(escapeGlob(name))
	if err != nil {
		return nil, err
	}

	logger.Debug("Looked up chart images",
		zap.Int("question_id", questionID),
		zap.String("model", modelName),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}

// ListAll returns every chart_*.png in the directory, whether or not the
// name parses.
func (r *Repository) ListAll() ([]string, error) {
	return r.glob(listPattern)
}

func (r *Repository) glob(pattern string) ([]string, error) {
	exists, err := afero.DirExists(r.fs, r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image directory: %w", err)
	}
	if !exists {
		return []string{}, nil
	}

	matches, err := afero.Glob(r.fs, filepath.Join(escapeGlob(r.dir), pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	sort.Strings(matches)
	if matches == nil {
		matches = []string{}
	}
	return matches, nil
}

type Filter struct {
	QuestionIDs []int
	Models      []string
}

func (f Filter) match(m Metadata) bool {
	if len(f.QuestionIDs) > 0 && !slices.Contains(f.QuestionIDs, m.QuestionID) {
		return false
	}
	if len(f.Models) > 0 && !slices.Contains(f.Models, m.ModelName) {
		return false
	}
	return true
}

type Entry struct {
	Metadata
	Path string `json:"path"`
}

// Catalog parses every listed image and keeps those matching the filter.
// Unparseable names are skipped.
func (r *Repository) Catalog(filter Filter) ([]Entry, error) {
	paths, err := r.ListAll()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		meta, ok := Parse(filepath.Base(p))
		if !ok {
			logger.Debug("Skipping unparseable image name", zap.String("path", p))
			continue
		}
		if !filter.match(meta) {
			continue
		}
		entries = append(entries, Entry{Metadata: meta, Path: p})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].QuestionID != entries[j].QuestionID {
			return entries[i].QuestionID < entries[j].QuestionID
		}
		return entries[i].ModelName < entries[j].ModelName
	})
	return entries, nil
}

// Facets lists the distinct question ids and model names across all parseable
// images, for building gallery filters.
func (r *Repository) Facets() ([]int, []string, error) {
	entries, err := r.Catalog(Filter{})
	if err != nil {
		return nil, nil, err
	}

	var ids []int
	var models []string
	for _, e := range entries {
		if !slices.Contains(ids, e.QuestionID) {
			ids = append(ids, e.QuestionID)
		}
		if !slices.Contains(models, e.ModelName) {
			models = append(models, e.ModelName)
		}
	}
	slices.Sort(ids)
	slices.Sort(models)
	return ids, models, nil
}

// Open returns the content of one image by base name.
func (r *Repository) Open(name string) (io.ReadCloser, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	f, err := r.fs.Open(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image %q: %w", name, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return f, nil
}

// escapeGlob quotes the characters filepath.Match treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

package dataset

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql-eval/backend/internal/rubric"
)

const (
	canonicalPath = "data/nl2sql_eval.csv"
	workingPath   = "data/nl2sql_eval_working.csv"
)

type recordedEvent struct {
	kind string
	path string
	rows int
}

type fakeRecorder struct {
	events []recordedEvent
	err    error
}

func (r *fakeRecorder) RecordDatasetEvent(kind, path string, rows int) error {
	r.events = append(r.events, recordedEvent{kind, path, rows})
	return r.err
}

func newTestStore(t *testing.T) (*Store, afero.Fs, *fakeRecorder) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, canonicalPath, []byte(fixtureCSV), 0o644))
	rec := &fakeRecorder{}
	return NewStore(fs, canonicalPath, workingPath, rec), fs, rec
}

func TestOpenWorkingCopy_CopiesOnFirstUse(t *testing.T) {
	store, fs, rec := newTestStore(t)

	table, err := store.OpenWorkingCopy()
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	working, err := afero.ReadFile(fs, workingPath)
	require.NoError(t, err)
	assert.Equal(t, fixtureCSV, string(working))
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventWorkingCopyCreated, rec.events[0].kind)

	created, err := store.EnsureWorkingCopy()
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOpenWorkingCopy_PrefersExistingWorkingCopy(t *testing.T) {
	store, fs, _ := newTestStore(t)
	other := "QuestionID,QueryText,Domain,Complexity,GoldSQL\n7,q,d,c,SELECT 7\n"
	require.NoError(t, afero.WriteFile(fs, workingPath, []byte(other), 0o644))

	table, err := store.OpenWorkingCopy()
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, table.QuestionIDs())
}

func TestOpenWorkingCopy_CanonicalMissing(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), canonicalPath, workingPath, nil)

	_, err := store.OpenWorkingCopy()
	assert.ErrorIs(t, err, ErrCanonicalMissing)
}

func TestOpenWorkingCopy_MalformedCanonicalIsNotCopied(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, canonicalPath, []byte("a,b\n1,2\n"), 0o644))
	store := NewStore(fs, canonicalPath, workingPath, nil)

	_, err := store.OpenWorkingCopy()
	assert.ErrorIs(t, err, ErrMalformed)

	exists, err := afero.Exists(fs, workingPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSave_PersistsRubric(t *testing.T) {
	store, fs, _ := newTestStore(t)

	table, err := store.OpenWorkingCopy()
	require.NoError(t, err)

	scores := rubric.Scores{Correctness: 0, ResultMatch: 1, UserRating: 4, ChartRating: 2, AnalystChartChoice: "scatter"}
	require.NoError(t, table.SetRubric("1", "modelB", scores))
	require.NoError(t, store.Save(table))

	reopened, err := store.OpenWorkingCopy()
	require.NoError(t, err)
	sub, err := reopened.Submission("1", "modelB")
	require.NoError(t, err)
	assert.Equal(t, scores, sub.Scores)

	canonical, err := afero.ReadFile(fs, canonicalPath)
	require.NoError(t, err)
	assert.Equal(t, fixtureCSV, string(canonical))
}

func TestFinalize_CopiesWorkingCopyAndIsIdempotent(t *testing.T) {
	store, fs, rec := newTestStore(t)

	table, err := store.OpenWorkingCopy()
	require.NoError(t, err)
	require.NoError(t, table.SetRubric("2", "modelA", rubric.Defaults))
	require.NoError(t, store.Save(table))

	require.NoError(t, store.Finalize())
	first, err := afero.ReadFile(fs, canonicalPath)
	require.NoError(t, err)
	working, err := afero.ReadFile(fs, workingPath)
	require.NoError(t, err)
	assert.Equal(t, working, first)

	require.NoError(t, store.Finalize())
	second, err := afero.ReadFile(fs, canonicalPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, EventFinalized, rec.events[len(rec.events)-1].kind)
}

func TestFinalize_WithoutWorkingCopy(t *testing.T) {
	store, _, _ := newTestStore(t)
	assert.Error(t, store.Finalize())
}

func TestSave_RecorderErrorIsNotFatal(t *testing.T) {
	store, _, rec := newTestStore(t)
	rec.err = errors.New("journal unavailable")

	table, err := store.OpenWorkingCopy()
	require.NoError(t, err)
	assert.NoError(t, store.Save(table))
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, writeAtomic(fs, "out/file.csv", []byte("x")))

	entries, err := afero.ReadDir(fs, "out")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.csv", entries[0].Name())
}

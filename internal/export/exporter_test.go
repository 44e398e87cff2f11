package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/spigell/job-pilot/internal/ai"
	"github.com/spigell/job-pilot/internal/apperr"
	"github.com/spigell/job-pilot/internal/candidate"
	"github.com/spigell/job-pilot/internal/jobs"
	"github.com/spigell/job-pilot/internal/materials"
)

type fakePrinter struct {
	err   error
	calls int
}

func (p *fakePrinter) PDF(_ context.Context, html []byte) ([]byte, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return append([]byte("%PDF-"), html[:10]...), nil
}

func testBundle() *materials.Bundle {
	return &materials.Bundle{
		CandidateID: "alice",
		Job:         &jobs.Job{ID: "job-1", Title: "Data Analyst", Company: "Acme"},
		Profile: &candidate.Profile{
			Name:     "Ada Lovelace",
			Email:    "ada@example.com",
			Location: "Berlin",
		},
		CV: &materials.CV{
			Content: datatypes.NewJSONType(ai.TailoredCV{
				Headline: "Data Analyst",
				Summary:  "Numbers <and> notes.",
				Skills:   []string{"SQL", "Python"},
				Experience: []candidate.Experience{
					{Title: "Analyst", Company: "Initech", StartDate: "2020", Highlights: []string{"Built dashboards"}},
				},
			}),
		},
		CoverLetters: []materials.CoverLetter{
			{Variant: "concise", Content: "Dear team,\n\nI would love to join.\n\nBest"},
			{Variant: "professional", Content: "Dear hiring manager"},
		},
	}
}

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestExportHTMLToLocalStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exp, err := NewExporter(&LocalStore{Dir: dir}, nil, nil)
	require.NoError(t, err)

	out, err := exp.Export(context.Background(), testBundle())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "alice", "job-1", "tailored_cv.html"), out.CVPath)
	assert.Equal(t, filepath.Join(dir, "alice", "job-1", "cover_letter_concise.html"), out.CoverLetterPaths["concise"])
	assert.Equal(t, filepath.Join(dir, "alice", "job-1", "materials.zip"), out.ArchivePath)

	cv, err := os.ReadFile(out.CVPath)
	require.NoError(t, err)
	assert.Contains(t, string(cv), "<h1>Ada Lovelace</h1>")
	assert.Contains(t, string(cv), "SQL, Python")
	assert.Contains(t, string(cv), "2020 - present")
	assert.Contains(t, string(cv), "Numbers &lt;and&gt; notes.")

	letter, err := os.ReadFile(out.CoverLetterPaths["concise"])
	require.NoError(t, err)
	assert.Contains(t, string(letter), "<p>I would love to join.</p>")
	assert.Contains(t, string(letter), "Data Analyst at Acme")

	archive, err := os.ReadFile(out.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"cover_letter_concise.html", "cover_letter_professional.html", "tailored_cv.html"}, zipNames(t, archive))
}

func TestExportPDF(t *testing.T) {
	t.Parallel()

	printer := &fakePrinter{}
	exp, err := NewExporter(&LocalStore{Dir: t.TempDir()}, printer, nil)
	require.NoError(t, err)

	out, err := exp.Export(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Equal(t, 3, printer.calls)
	assert.Equal(t, ".pdf", filepath.Ext(out.CVPath))

	printer.err = errors.New("no chromium")
	out, err = exp.Export(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Equal(t, ".html", filepath.Ext(out.CVPath), "a failed print keeps the html")
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	t.Parallel()

	s := &LocalStore{Dir: t.TempDir()}
	for _, key := range []string{"../evil", "a/../../b", "", "/"} {
		_, err := s.Put(context.Background(), key, []byte("x"), contentHTML)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "key %q", key)
	}

	p, err := s.Put(context.Background(), "/a/b.txt", []byte("x"), contentHTML)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir, "a", "b.txt"), p)
}

func TestSafe(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "concise", safe("concise"))
	assert.Equal(t, "a_b", safe("a/b"))
	assert.Equal(t, "_", safe(".."))
	assert.Equal(t, "_", safe(" "))
}

func TestParagraphs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"one", "two\nlines"}, paragraphs("one\r\n\r\ntwo\nlines\n\n\n"))
	assert.Nil(t, paragraphs("  "))
}

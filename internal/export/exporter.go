package export

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/job-pilot/internal/materials"
)

const (
	contentHTML = "text/html; charset=utf-8"
	contentPDF  = "application/pdf"
	contentZip  = "application/zip"
)

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Config struct {
	Backend string      `mapstructure:"backend"`
	Dir     string      `mapstructure:"dir"`
	PDF     bool        `mapstructure:"pdf"`
	Browser string      `mapstructure:"browser"`
	Minio   MinioConfig `mapstructure:"minio"`
}

// Exporter renders the materials of a job, stores every file and a zip of
// all of them under {candidate}/{job}/.
type Exporter struct {
	renderer *Renderer
	printer  PDFPrinter
	store    ObjectStore
	logger   *zap.Logger
}

// NewExporter builds an exporter. A nil printer exports HTML only.
func NewExporter(store ObjectStore, printer PDFPrinter, logger *zap.Logger) (*Exporter, error) {
	renderer, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{renderer: renderer, printer: printer, store: store, logger: logger}, nil
}

type file struct {
	name        string
	data        []byte
	contentType string
}

func (e *Exporter) Export(ctx context.Context, b *materials.Bundle) (*materials.Exported, error) {
	prefix := path.Join(safe(b.CandidateID), safe(b.Job.ID))
	out := &materials.Exported{CoverLetterPaths: map[string]string{}}
	var files []file

	cvHTML, err := e.renderer.CV(b.Profile, b.Job, b.CV.Content.Data())
	if err != nil {
		return nil, err
	}
	cv, err := e.document(ctx, "tailored_cv", cvHTML)
	if err != nil {
		return nil, err
	}
	if out.CVPath, err = e.store.Put(ctx, path.Join(prefix, cv.name), cv.data, cv.contentType); err != nil {
		return nil, err
	}
	files = append(files, cv)

	for _, cl := range b.CoverLetters {
		letterHTML, err := e.renderer.CoverLetter(b.Profile, b.Job, cl.Content)
		if err != nil {
			return nil, err
		}
		doc, err := e.document(ctx, "cover_letter_"+safe(cl.Variant), letterHTML)
		if err != nil {
			return nil, err
		}
		p, err := e.store.Put(ctx, path.Join(prefix, doc.name), doc.data, doc.contentType)
		if err != nil {
			return nil, err
		}
		out.CoverLetterPaths[cl.Variant] = p
		files = append(files, doc)
	}

	archive, err := zipFiles(files)
	if err != nil {
		return nil, err
	}
	if out.ArchivePath, err = e.store.Put(ctx, path.Join(prefix, "materials.zip"), archive, contentZip); err != nil {
		return nil, err
	}

	e.logger.Info("materials exported",
		zap.String("job_id", b.Job.ID),
		zap.String("archive", out.ArchivePath),
		zap.Int("files", len(files)),
		zap.Bool("pdf", e.printer != nil),
	)
	return out, nil
}

// document prints html to pdf when a printer is configured. A failed print
// falls back to the html file.
func (e *Exporter) document(ctx context.Context, base string, html []byte) (file, error) {
	if e.printer != nil {
		pdf, err := e.printer.PDF(ctx, html)
		if err == nil {
			return file{name: base + ".pdf", data: pdf, contentType: contentPDF}, nil
		}
		if ctx.Err() != nil {
			return file{}, ctx.Err()
		}
		e.logger.Warn("pdf export failed, storing html", zap.String("document", base), zap.Error(err))
	}
	return file{name: base + ".html", data: html, contentType: contentHTML}, nil
}

func zipFiles(files []file) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.name, err)
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

func safe(s string) string {
	s = unsafeKey.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// New builds the exporter selected by cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Exporter, error) {
	var store ObjectStore
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		dir := cfg.Dir
		if dir == "" {
			dir = "exports"
		}
		store = &LocalStore{Dir: dir}
	case BackendMinio:
		s, err := NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unsupported export backend: %s", cfg.Backend)
	}

	var printer PDFPrinter
	if cfg.PDF {
		printer = &RodPrinter{Bin: cfg.Browser}
	}
	return NewExporter(store, printer, logger)
}

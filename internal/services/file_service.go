package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/quickprint/api/internal/conversion"
	"github.com/quickprint/api/internal/platform/storage"
)

const (
	noteLibreOffice         = "Converted with LibreOffice"
	noteLibreOfficeFallback = "Converted with LibreOffice (fallback)"
	noteImageImport         = "Converted with pdfcpu"
	noteOriginalKept        = "Original file copied (conversion failed)"
	notePDFDirect           = "PDF copied directly"
)

// DocumentConverter renders a document into outDir and returns the PDF path.
type DocumentConverter interface {
	Convert(ctx context.Context, inputPath, outDir string) (string, error)
}

// PageEstimator counts printable pages and never fails.
type PageEstimator interface {
	EstimatePages(ctx context.Context, path string) int
}

// FileMetrics receives page estimation samples.
type FileMetrics interface {
	PagesEstimated(kind string, pages int)
}

// FileServiceDeps bundles collaborators for upload handling.
type FileServiceDeps struct {
	Store       storage.Store
	Converter   DocumentConverter
	Estimator   PageEstimator
	ImagesToPDF func(imagePaths []string, outPath string) error
	WorkDir     string
	Metrics     FileMetrics
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type fileService struct {
	store       storage.Store
	converter   DocumentConverter
	estimator   PageEstimator
	imagesToPDF func([]string, string) error
	workDir     string
	metrics     FileMetrics
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewFileService constructs the upload/convert service.
func NewFileService(deps FileServiceDeps) (FileService, error) {
	if deps.Store == nil {
		return nil, errors.New("file service: storage is required")
	}
	if deps.Converter == nil {
		return nil, errors.New("file service: converter is required")
	}
	estimator := deps.Estimator
	if estimator == nil {
		estimator = conversion.NewEstimator(nil)
	}
	imagesToPDF := deps.ImagesToPDF
	if imagesToPDF == nil {
		imagesToPDF = conversion.ImagesToPDF
	}
	workDir := deps.WorkDir
	if strings.TrimSpace(workDir) == "" {
		workDir = os.TempDir()
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &fileService{
		store:       deps.Store,
		converter:   deps.Converter,
		estimator:   estimator,
		imagesToPDF: imagesToPDF,
		workDir:     workDir,
		metrics:     deps.Metrics,
		newID:       idGen,
		logger:      logger,
	}, nil
}

// Upload stores the file as-is and estimates its pages.
func (s *fileService) Upload(ctx context.Context, cmd FileCommand) (FileResult, error) {
	kind, err := s.classify(cmd)
	if err != nil {
		return FileResult{}, err
	}
	pages := s.estimator.EstimatePages(ctx, cmd.Path)
	s.observePages(kind, pages)

	result, err := s.put(ctx, cmd, cmd.Path, cmd.Filename, cmd.ContentType)
	if err != nil {
		return FileResult{}, err
	}
	result.Pages = pages
	s.logger(ctx, "file.uploaded", map[string]any{"objectKey": result.ObjectKey, "pages": pages, "kind": kind.String()})
	return result, nil
}

// Convert renders the file to PDF where possible, counts pages and stores the printable version.
// When conversion fails the original is stored and counted as one page.
func (s *fileService) Convert(ctx context.Context, cmd FileCommand) (FileResult, error) {
	kind, err := s.classify(cmd)
	if err != nil {
		return FileResult{}, err
	}

	outDir, err := os.MkdirTemp(s.workDir, "convert-")
	if err != nil {
		return FileResult{}, fmt.Errorf("file service: create work dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pdfName := strings.TrimSuffix(cmd.Filename, filepath.Ext(cmd.Filename)) + ".pdf"
	var (
		pdfPath string
		note    string
		pages   int
	)

	switch kind {
	case conversion.KindPDF:
		pdfPath, note = cmd.Path, notePDFDirect
		pages = s.estimator.EstimatePages(ctx, pdfPath)
	case conversion.KindImage:
		pages = 1
		imported := filepath.Join(outDir, "image.pdf")
		if err := s.imagesToPDF([]string{cmd.Path}, imported); err == nil {
			pdfPath, note = imported, noteImageImport
		} else if converted, convErr := s.converter.Convert(ctx, cmd.Path, outDir); convErr == nil {
			pdfPath, note = converted, noteLibreOfficeFallback
		} else {
			s.logger(ctx, "file.convert_failed", map[string]any{"file": cmd.Filename, "error": convErr.Error()})
		}
	case conversion.KindDocument:
		converted, convErr := s.converter.Convert(ctx, cmd.Path, outDir)
		if convErr != nil {
			s.logger(ctx, "file.convert_failed", map[string]any{"file": cmd.Filename, "error": convErr.Error()})
			pages = 1
			break
		}
		pdfPath, note = converted, noteLibreOffice
		pages = s.estimator.EstimatePages(ctx, pdfPath)
	}
	s.observePages(kind, pages)

	var result FileResult
	if pdfPath == "" {
		result, err = s.put(ctx, cmd, cmd.Path, cmd.Filename, cmd.ContentType)
		note = noteOriginalKept
	} else {
		result, err = s.put(ctx, cmd, pdfPath, pdfName, "application/pdf")
		result.Converted = kind != conversion.KindPDF
	}
	if err != nil {
		return FileResult{}, err
	}
	result.Pages = pages
	result.Note = note
	s.logger(ctx, "file.converted", map[string]any{"objectKey": result.ObjectKey, "pages": pages, "note": note})
	return result, nil
}

func (s *fileService) classify(cmd FileCommand) (conversion.Kind, error) {
	if strings.TrimSpace(cmd.Path) == "" || strings.TrimSpace(cmd.Filename) == "" {
		return conversion.KindUnsupported, fmt.Errorf("%w: file is required", ErrValidation)
	}
	kind := conversion.Classify(cmd.Filename)
	if kind == conversion.KindUnsupported {
		return kind, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(cmd.Filename))
	}
	return kind, nil
}

func (s *fileService) put(ctx context.Context, cmd FileCommand, path, name, contentType string) (FileResult, error) {
	key, err := storage.UploadKey(cmd.UserID, s.newID(), name)
	if err != nil {
		return FileResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return FileResult{}, fmt.Errorf("file service: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj, err := s.store.Put(ctx, key, contentType, f)
	if err != nil {
		return FileResult{}, fmt.Errorf("file service: store upload: %w", err)
	}
	return FileResult{URL: obj.URL, ObjectKey: obj.Key}, nil
}

func (s *fileService) observePages(kind conversion.Kind, pages int) {
	if s.metrics != nil {
		s.metrics.PagesEstimated(kind.String(), pages)
	}
}

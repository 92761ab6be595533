package conversion

import (
	"context"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var disableConfigDir sync.Once

// PageCounter returns the number of pages in a PDF file.
type PageCounter func(path string) (int, error)

// PDFPageCount counts pages with pdfcpu.
func PDFPageCount(path string) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	return api.PageCountFile(path)
}

// ImagesToPDF lays each image out on its own page of outPath.
func ImagesToPDF(imagePaths []string, outPath string) error {
	disableConfigDir.Do(api.DisableConfigDir)
	return api.ImportImagesFile(imagePaths, outPath, nil, nil)
}

// Estimator guesses how many pages a customer file will print as.
type Estimator struct {
	count PageCounter
}

// NewEstimator returns an Estimator; a nil counter uses pdfcpu.
func NewEstimator(count PageCounter) *Estimator {
	if count == nil {
		count = PDFPageCount
	}
	return &Estimator{count: count}
}

// EstimatePages never fails: images, unreadable PDFs and anything else count as a single page.
func (e *Estimator) EstimatePages(ctx context.Context, path string) int {
	if ctx.Err() != nil || Classify(path) != KindPDF {
		return 1
	}
	pages, err := e.count(path)
	if err != nil || pages < 1 {
		return 1
	}
	return pages
}

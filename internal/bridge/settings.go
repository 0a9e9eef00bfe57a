package bridge

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
)

// PDFSettings are the Page.printToPDF layout options. Sizes are in inches.
type PDFSettings struct {
	Landscape               bool    `json:"landscape" yaml:"landscape"`
	DisplayHeaderFooter     bool    `json:"displayHeaderFooter" yaml:"displayHeaderFooter"`
	PrintBackground         bool    `json:"printBackground" yaml:"printBackground"`
	Scale                   float64 `json:"scale" yaml:"scale"`
	PaperWidth              float64 `json:"paperWidth" yaml:"paperWidth"`
	PaperHeight             float64 `json:"paperHeight" yaml:"paperHeight"`
	MarginTop               float64 `json:"marginTop" yaml:"marginTop"`
	MarginBottom            float64 `json:"marginBottom" yaml:"marginBottom"`
	MarginLeft              float64 `json:"marginLeft" yaml:"marginLeft"`
	MarginRight             float64 `json:"marginRight" yaml:"marginRight"`
	PageRanges              string  `json:"pageRanges,omitempty" yaml:"pageRanges,omitempty"`
	IgnoreInvalidPageRanges bool    `json:"ignoreInvalidPageRanges" yaml:"ignoreInvalidPageRanges"`
	HeaderTemplate          string  `json:"headerTemplate,omitempty" yaml:"headerTemplate,omitempty"`
	FooterTemplate          string  `json:"footerTemplate,omitempty" yaml:"footerTemplate,omitempty"`
	PreferCSSPageSize       bool    `json:"preferCSSPageSize" yaml:"preferCSSPageSize"`
	GenerateTaggedPDF       bool    `json:"generateTaggedPDF" yaml:"generateTaggedPDF"`
	GenerateDocumentOutline bool    `json:"generateDocumentOutline" yaml:"generateDocumentOutline"`
}

// DefaultPDFSettings is US letter with 0.4in (about 1cm) margins and
// backgrounds printed.
func DefaultPDFSettings() PDFSettings {
	return PDFSettings{
		PrintBackground: true,
		Scale:           1,
		PaperWidth:      8.5,
		PaperHeight:     11,
		MarginTop:       0.4,
		MarginBottom:    0.4,
		MarginLeft:      0.4,
		MarginRight:     0.4,
	}
}

func (s PDFSettings) Validate() error {
	switch {
	case s.Scale <= 0 || s.Scale > 2:
		return fmt.Errorf("%w: scale %v out of range (0, 2]", ErrInvalidRequest, s.Scale)
	case s.PaperWidth <= 0 || s.PaperHeight <= 0:
		return fmt.Errorf("%w: paper size %vx%v must be positive", ErrInvalidRequest, s.PaperWidth, s.PaperHeight)
	case s.MarginTop < 0 || s.MarginBottom < 0 || s.MarginLeft < 0 || s.MarginRight < 0:
		return fmt.Errorf("%w: margins must not be negative", ErrInvalidRequest)
	}
	return nil
}

type paperSize struct{ width, height float64 }

var paperFormats = map[string]paperSize{
	"letter":  {8.5, 11},
	"legal":   {8.5, 14},
	"tabloid": {11, 17},
	"ledger":  {17, 11},
	"a0":      {33.1, 46.8},
	"a1":      {23.4, 33.1},
	"a2":      {16.54, 23.4},
	"a3":      {11.7, 16.54},
	"a4":      {8.27, 11.7},
	"a5":      {5.83, 8.27},
	"a6":      {4.13, 5.83},
}

// ParsePaperFormat sets the paper size from a name such as "A4" or "Letter".
func (s *PDFSettings) ParsePaperFormat(name string) error {
	size, ok := paperFormats[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("%w: unknown paper format %q", ErrInvalidRequest, name)
	}
	s.PaperWidth, s.PaperHeight = size.width, size.height
	return nil
}

// printToPDFParams is built by hand because cdproto no longer carries
// ignoreInvalidPageRanges, which older Chrome builds still honour.
type printToPDFParams struct {
	Landscape               bool    `json:"landscape"`
	DisplayHeaderFooter     bool    `json:"displayHeaderFooter"`
	PrintBackground         bool    `json:"printBackground"`
	Scale                   float64 `json:"scale"`
	PaperWidth              float64 `json:"paperWidth"`
	PaperHeight             float64 `json:"paperHeight"`
	MarginTop               float64 `json:"marginTop"`
	MarginBottom            float64 `json:"marginBottom"`
	MarginLeft              float64 `json:"marginLeft"`
	MarginRight             float64 `json:"marginRight"`
	PageRanges              string  `json:"pageRanges,omitzero"`
	IgnoreInvalidPageRanges bool    `json:"ignoreInvalidPageRanges"`
	HeaderTemplate          string  `json:"headerTemplate,omitzero"`
	FooterTemplate          string  `json:"footerTemplate,omitzero"`
	PreferCSSPageSize       bool    `json:"preferCSSPageSize"`
	GenerateTaggedPDF       bool    `json:"generateTaggedPDF,omitzero"`
	GenerateDocumentOutline bool    `json:"generateDocumentOutline,omitzero"`
	TransferMode            string  `json:"transferMode"`
}

func (s PDFSettings) params() printToPDFParams {
	return printToPDFParams{
		Landscape:               s.Landscape,
		DisplayHeaderFooter:     s.DisplayHeaderFooter,
		PrintBackground:         s.PrintBackground,
		Scale:                   s.Scale,
		PaperWidth:              s.PaperWidth,
		PaperHeight:             s.PaperHeight,
		MarginTop:               s.MarginTop,
		MarginBottom:            s.MarginBottom,
		MarginLeft:              s.MarginLeft,
		MarginRight:             s.MarginRight,
		PageRanges:              s.PageRanges,
		IgnoreInvalidPageRanges: s.IgnoreInvalidPageRanges,
		HeaderTemplate:          s.HeaderTemplate,
		FooterTemplate:          s.FooterTemplate,
		PreferCSSPageSize:       s.PreferCSSPageSize,
		GenerateTaggedPDF:       s.GenerateTaggedPDF,
		GenerateDocumentOutline: s.GenerateDocumentOutline,
		TransferMode:            string(page.PrintToPDFTransferModeReturnAsStream),
	}
}

// ScreenshotSettings select the image encoding of CaptureScreenshot.
type ScreenshotSettings struct {
	Format   string `json:"format" yaml:"format"`
	Quality  int    `json:"quality,omitempty" yaml:"quality,omitempty"`
	FullPage bool   `json:"fullPage" yaml:"fullPage"`
}

func DefaultScreenshotSettings() ScreenshotSettings {
	return ScreenshotSettings{Format: "png"}
}

func (s ScreenshotSettings) Validate() error {
	switch page.CaptureScreenshotFormat(s.Format) {
	case page.CaptureScreenshotFormatPng:
		if s.Quality != 0 {
			return fmt.Errorf("%w: quality is not supported for png", ErrInvalidRequest)
		}
	case page.CaptureScreenshotFormatJpeg, page.CaptureScreenshotFormatWebp:
		if s.Quality < 0 || s.Quality > 100 {
			return fmt.Errorf("%w: quality %d out of range [0, 100]", ErrInvalidRequest, s.Quality)
		}
	default:
		return fmt.Errorf("%w: unsupported screenshot format %q", ErrInvalidRequest, s.Format)
	}
	return nil
}

// ContentType is the MIME type of images captured with these settings.
func (s ScreenshotSettings) ContentType() string {
	return "image/" + s.Format
}

func (s ScreenshotSettings) params() *page.CaptureScreenshotParams {
	p := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormat(s.Format))
	if s.Quality > 0 {
		p = p.WithQuality(int64(s.Quality))
	}
	if s.FullPage {
		p = p.WithCaptureBeyondViewport(true)
	}
	return p
}

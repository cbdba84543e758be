// Package extract pulls plain text out of uploaded documents.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/docqa/pkg/model"
	"github.com/m-mizutani/docqa/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

const mimePDF = "application/pdf"

// Extractor reads PDF documents page by page.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Pages returns the text of every page in order. Pages without text are
// dropped, so a document of N pages with M empty ones yields N-M entries.
func (x *Extractor) Pages(ctx context.Context, data []byte) (pages []string, err error) {
	if len(data) == 0 {
		return nil, goerr.New("document is empty", goerr.T(model.ErrTagExtraction))
	}

	if mime := mimetype.Detect(data); !mime.Is(mimePDF) {
		return nil, goerr.New("document is not a PDF",
			goerr.V("mime_type", mime.String()),
			goerr.T(model.ErrTagExtraction))
	}

	// the parser panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = goerr.New("failed to parse PDF",
				goerr.V("panic", fmt.Sprint(r)),
				goerr.T(model.ErrTagExtraction))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse PDF", goerr.T(model.ErrTagExtraction))
	}

	n := reader.NumPage()
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			logging.From(ctx).Debug("skip unreadable page", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	logging.From(ctx).Debug("extracted PDF text", "pages", n, "non_empty", len(pages))
	return pages, nil
}

// Text is Pages joined with a single space.
func (x *Extractor) Text(ctx context.Context, data []byte) (string, error) {
	pages, err := x.Pages(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.Join(pages, " "), nil
}

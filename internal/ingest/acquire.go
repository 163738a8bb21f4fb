package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/chromedp"
	"github.com/hashicorp/go-multierror"

	"github.com/lox/gridweather/internal/httputil"
	"github.com/lox/gridweather/internal/metrics"
	"github.com/lox/gridweather/internal/store"
)

const (
	ERCOTProductURL = "https://www.ercot.com/mp/data-products/data-product-details?id=NP6-905-CD"

	docLookupMarker = "doclookupId="
)

// AcquireResult summarises one acquisition pass.
type AcquireResult struct {
	Files  []string // CSV files written into the raw directory
	Failed int      // documents that could not be fetched or extracted
}

// PriceSource fills a raw directory with settlement price CSVs. Per-file
// failures are returned as a multierror of *AcquisitionError alongside the
// files that did succeed.
type PriceSource interface {
	Name() string
	Acquire(ctx context.Context, dir string) (AcquireResult, error)
}

// Manifest records acquired files so later runs can tell whether the raw
// directory is complete.
type Manifest interface {
	RecordAcquiredFile(path, origin string) (*store.AcquiredFile, error)
}

// DocLink is a downloadable document on the ERCOT product page.
type DocLink struct {
	Title string `json:"title"`
	Href  string `json:"href"`
}

type ERCOTSource struct {
	productURL string
	headless   bool
	client     *http.Client
	manifest   Manifest
	maxElapsed time.Duration

	list func(ctx context.Context) ([]DocLink, error)
}

func NewERCOTSource(productURL string, headless bool, manifest Manifest) *ERCOTSource {
	if productURL == "" {
		productURL = ERCOTProductURL
	}
	e := &ERCOTSource{
		productURL: productURL,
		headless:   headless,
		client:     httputil.NewDownloadClient(),
		manifest:   manifest,
		maxElapsed: 2 * time.Minute,
	}
	e.list = e.ListDocuments
	return e
}

func (e *ERCOTSource) Name() string { return "ercot" }

// ListDocuments opens the product page in a headless browser and returns
// every document link it renders.
func (e *ERCOTSource) ListDocuments(ctx context.Context) ([]DocLink, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", e.headless))
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, 2*time.Minute)
	defer cancelTimeout()

	js := `Array.from(document.querySelectorAll('a[href*="` + docLookupMarker + `"]')).map(a => {
		const row = a.closest('tr');
		return {title: row ? row.innerText.trim() : a.innerText.trim(), href: a.getAttribute('href')};
	})`

	var links []DocLink
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(e.productURL),
		chromedp.WaitVisible(`a[href*="`+docLookupMarker+`"]`, chromedp.ByQuery),
		chromedp.Evaluate(js, &links),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	log.Printf("acquire: found %d documents on %s", len(links), e.productURL)
	return links, nil
}

// Acquire downloads every CSV document listed on the product page and
// extracts it into dir.
func (e *ERCOTSource) Acquire(ctx context.Context, dir string) (AcquireResult, error) {
	var res AcquireResult
	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("create raw dir: %w", err)
	}

	links, err := e.list(ctx)
	if err != nil {
		return res, err
	}
	base, err := url.Parse(e.productURL)
	if err != nil {
		return res, fmt.Errorf("parse product url: %w", err)
	}

	var result *multierror.Error
	for _, link := range links {
		if strings.Contains(strings.ToLower(link.Title), "xml") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ref, err := url.Parse(link.Href)
		if err != nil {
			res.Failed++
			result = multierror.Append(result, &AcquisitionError{File: link.Href, Err: err})
			continue
		}
		docURL := base.ResolveReference(ref).String()
		name := docName(ref, link.Title)

		data, err := e.download(ctx, docURL)
		if err == nil {
			var files []string
			files, err = extractDocument(name, data, dir, e.Name(), e.manifest)
			res.Files = append(res.Files, files...)
		}
		if err != nil {
			log.Printf("acquire: %s failed: %v", name, err)
			metrics.FilesAcquired.WithLabelValues(e.Name(), "error").Inc()
			res.Failed++
			result = multierror.Append(result, &AcquisitionError{File: name, Err: err})
			continue
		}
		metrics.FilesAcquired.WithLabelValues(e.Name(), "ok").Inc()
	}

	log.Printf("acquire: ercot wrote %d files, %d failed", len(res.Files), res.Failed)
	return res, result.ErrorOrNil()
}

func (e *ERCOTSource) download(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("download: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("download: status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// docName picks a file name for a document: the title when it looks like a
// file name, otherwise the lookup id.
func docName(ref *url.URL, title string) string {
	if fields := strings.Fields(title); len(fields) > 0 {
		title = fields[0]
	}
	if ext := strings.ToLower(filepath.Ext(title)); ext == ".zip" || ext == ".csv" {
		return filepath.Base(title)
	}
	if id := ref.Query().Get("doclookupId"); id != "" {
		return id + ".zip"
	}
	return filepath.Base(ref.Path) + ".zip"
}

var errNoCSV = errors.New("archive contains no csv")

// extractDocument writes the CSV content of a downloaded document into dir
// and records each file in the manifest. Zip archives are unpacked; plain
// CSVs are written as is.
func extractDocument(name string, data []byte, dir, origin string, m Manifest) ([]string, error) {
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		path := filepath.Join(dir, filepath.Base(name))
		if err := writeFileAtomic(path, bytes.NewReader(data)); err != nil {
			return nil, err
		}
		return []string{path}, record(m, path, origin)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var files []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), ".csv") {
			continue
		}
		path := filepath.Join(dir, filepath.Base(f.Name))
		rc, err := f.Open()
		if err != nil {
			return files, fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeFileAtomic(path, rc)
		rc.Close()
		if err != nil {
			return files, err
		}
		if err := record(m, path, origin); err != nil {
			return files, err
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return nil, errNoCSV
	}
	return files, nil
}

func record(m Manifest, path, origin string) error {
	if m == nil {
		return nil
	}
	if _, err := m.RecordAcquiredFile(path, origin); err != nil {
		return fmt.Errorf("record %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeFileAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

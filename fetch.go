package dov_fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "dov-fixtures/" + Version

// ErrNotUTF8 is returned when a response isn't valid UTF-8 and doesn't
// declare some other charset.
var ErrNotUTF8 = errors.New("the response is not valid UTF-8")

var errTransformPanicked = errors.New("transform panicked")

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transform rewrites a fetched document before it is saved.
type Transform func(doc string) (string, error)

// Fetcher retrieves documents from the DOV web services as text.
type Fetcher struct {
	client  Doer
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewFetcher creates a Fetcher. The limiter may be nil, in which case
// requests are sent as fast as the caller makes them.
func NewFetcher(client Doer, userAgent string, limiter *rate.Limiter, logger *zap.Logger) *Fetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Fetcher{
		client:  &userAgentClient{inner: client, userAgent: userAgent},
		limiter: limiter,
		logger:  logger,
	}
}

// Fetch GETs a URL and returns its body decoded to UTF-8 text.
func (f *Fetcher) Fetch(ctx context.Context, rawUrl string) (string, error) {
	logger := f.logger.With(zap.String("url", rawUrl))

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawUrl, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	logger.Debug(
		"received response",
		zap.String("status", resp.Status),
		zap.Any("headers", resp.Header),
		zap.Int64("content-length", resp.ContentLength),
	)

	if resp.StatusCode < 200 || 300 <= resp.StatusCode {
		return "", fmt.Errorf("request failed with %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("unable to read the response: %w", err)
	}

	return decodeBody(body, resp.Header.Get("Content-Type"))
}

// xmlEncodingDecl matches the encoding declaration in an XML prolog. The
// groups are the text before the value, the opening quote, the value and
// the closing quote.
var xmlEncodingDecl = regexp.MustCompile(`^(\s*<\?xml[^>]*?\sencoding\s*=\s*)(["'])([^"']*)(["'])`)

// decodeBody turns a response body into UTF-8 text.
//
// A body which is already valid UTF-8 is used as is, whatever the headers
// say. Anything else is transcoded from the charset named by the
// Content-Type header or, failing that, the XML prolog, and the prolog's
// encoding declaration is rewritten to match.
func decodeBody(body []byte, contentType string) (string, error) {
	if utf8.Valid(body) {
		return string(body), nil
	}

	charset := declaredCharset(body, contentType)
	if charset == "" {
		return "", ErrNotUTF8
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return "", ErrNotUTF8
	}

	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("unable to decode the %s response: %w", charset, err)
	}

	return string(xmlEncodingDecl.ReplaceAll(decoded, []byte("${1}${2}UTF-8${4}"))), nil
}

func declaredCharset(body []byte, contentType string) string {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
			return params["charset"]
		}
	}

	if m := xmlEncodingDecl.FindSubmatch(body); m != nil {
		return string(m[3])
	}

	return ""
}

// Resource is a single fixture file and where its contents come from.
type Resource struct {
	// Dataset is the name of the dataset (or extras group) this belongs to.
	Dataset string
	// Path is the fixture's location relative to the fixture root, using
	// forward slashes.
	Path string
	URL  string
	// Transform, if set, is applied to the fetched document before saving.
	Transform Transform
}

// Updater fetches resources and saves them below a fixture root, reporting
// progress one line per resource.
type Updater struct {
	root     string
	fetcher  *Fetcher
	progress io.Writer
	logger   *zap.Logger
}

func NewUpdater(root string, fetcher *Fetcher, progress io.Writer, logger *zap.Logger) *Updater {
	return &Updater{
		root:     root,
		fetcher:  fetcher,
		progress: progress,
		logger:   logger,
	}
}

// Update fetches a resource, transforms it and overwrites the fixture file.
//
// Failures are reported and returned as part of the Outcome. The fixture is
// only replaced once the full new contents have been written, so a failed
// update leaves the previous file (or no file) in place.
func (u *Updater) Update(ctx context.Context, r Resource) Outcome {
	fmt.Fprintf(u.progress, "Updating %s ...", r.Path)

	written, err := u.update(ctx, r)
	if err != nil {
		return u.failed(r, err)
	}

	fmt.Fprint(u.progress, " OK.\n")
	u.logger.Debug(
		"Updated",
		zap.String("path", r.Path),
		zap.String("url", r.URL),
		zap.Int("bytes-written", written),
	)

	return Outcome{Resource: r, Bytes: written}
}

// Fail reports a resource which couldn't be attempted at all.
func (u *Updater) Fail(r Resource, err error) Outcome {
	fmt.Fprintf(u.progress, "Updating %s ...", r.Path)
	return u.failed(r, err)
}

func (u *Updater) failed(r Resource, err error) Outcome {
	fmt.Fprintf(u.progress, " FAILED:\n   %s.\n", err)
	u.logger.Warn(
		"Update failed",
		zap.String("path", r.Path),
		zap.String("url", r.URL),
		zap.Error(err),
	)

	return Outcome{Resource: r, Err: err}
}

func (u *Updater) update(ctx context.Context, r Resource) (int, error) {
	doc, err := u.fetcher.Fetch(ctx, r.URL)
	if err != nil {
		return 0, err
	}

	if r.Transform != nil {
		doc, err = applyTransform(u.logger, r.Transform, doc)
		if err != nil {
			return 0, err
		}
	}

	filename := filepath.Join(u.root, filepath.FromSlash(r.Path))
	if err := writeAtomically(filename, []byte(doc)); err != nil {
		return 0, err
	}

	return len(doc), nil
}

func applyTransform(logger *zap.Logger, transform Transform, doc string) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panicked while transforming a document", zap.Any("recover", r))
			err = errTransformPanicked
		}
	}()

	return transform(doc)
}

// writeAtomically replaces filename with data by writing to a temporary file
// in the same directory and renaming it into place.
func writeAtomically(filename string, data []byte) (err error) {
	outputDir := filepath.Dir(filename)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("unable to create the \"%s\" directory: %w", outputDir, err)
	}

	temp, err := os.CreateTemp(outputDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create a temporary file in \"%s\": %w", outputDir, err)
	}
	defer func() {
		if err != nil {
			_ = temp.Close()
			_ = os.Remove(temp.Name())
		}
	}()

	if _, err = temp.Write(data); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", temp.Name(), err)
	}

	if err = temp.Sync(); err != nil {
		return fmt.Errorf("flushing \"%s\" failed: %w", temp.Name(), err)
	}

	if err = temp.Close(); err != nil {
		return fmt.Errorf("unable to close \"%s\": %w", temp.Name(), err)
	}

	if err = os.Chmod(temp.Name(), 0644); err != nil {
		return fmt.Errorf("unable to set permissions on \"%s\": %w", temp.Name(), err)
	}

	if err = os.Rename(temp.Name(), filename); err != nil {
		return fmt.Errorf("unable to rename \"%s\" to \"%s\": %w", temp.Name(), filename, err)
	}

	return nil
}

type userAgentClient struct {
	inner     Doer
	userAgent string
}

func (c *userAgentClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return c.inner.Do(req)
}

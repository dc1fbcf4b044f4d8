// Package attachments turns files attached to the next turn into a text
// fragment that is merged into the turn's prompt.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/koscakluka/ema-persona/core/conversations"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxFiles      = 5
	DefaultMaxFileBytes  = 5 * 1024 * 1024
	DefaultMaxConcurrent = 1

	// NoExtractableContent stands in for a file the extraction service could
	// not read.
	NoExtractableContent = "No extractable content found."
)

var ErrIngestInProgress = errors.New("attachment extraction already in progress")

type File struct {
	Name     string
	MimeType string
	Data     []byte
}

func (f File) Size() int { return len(f.Data) }

// Extractor reads the meaningful content out of a single file.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, data []byte) (string, error)
}

type ExtractionError struct {
	File string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s: %v", e.File, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Report describes one accepted batch.
type Report struct {
	Accepted int
	Failed   []*ExtractionError
}

// Ingestor owns the attachments of the current, unsent turn.
type Ingestor struct {
	extractor Extractor
	options   IngestorOptions

	mu         sync.Mutex
	files      []File
	fragment   string
	processing bool
	// epoch changes whenever pending content is dropped; batches started in
	// an earlier epoch discard their result.
	epoch uint64
}

type IngestorOptions struct {
	MaxFiles      int
	MaxFileBytes  int
	MaxConcurrent int

	OnProcessingChanged func(processing bool)
}

type IngestorOption func(*IngestorOptions)

func WithMaxFiles(maxFiles int) IngestorOption {
	return func(o *IngestorOptions) { o.MaxFiles = maxFiles }
}

func WithMaxFileBytes(maxFileBytes int) IngestorOption {
	return func(o *IngestorOptions) { o.MaxFileBytes = maxFileBytes }
}

// WithMaxConcurrent bounds how many files are extracted at the same time.
// Results keep the order the files were given in regardless.
func WithMaxConcurrent(maxConcurrent int) IngestorOption {
	return func(o *IngestorOptions) { o.MaxConcurrent = maxConcurrent }
}

func WithProcessingCallback(callback func(processing bool)) IngestorOption {
	return func(o *IngestorOptions) { o.OnProcessingChanged = callback }
}

func NewIngestor(extractor Extractor, opts ...IngestorOption) *Ingestor {
	options := IngestorOptions{
		MaxFiles:            DefaultMaxFiles,
		MaxFileBytes:        DefaultMaxFileBytes,
		MaxConcurrent:       DefaultMaxConcurrent,
		OnProcessingChanged: func(bool) {},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxConcurrent <= 0 {
		options.MaxConcurrent = DefaultMaxConcurrent
	}
	if options.OnProcessingChanged == nil {
		options.OnProcessingChanged = func(bool) {}
	}

	return &Ingestor{extractor: extractor, options: options}
}

// Ingest validates the batch as a whole and extracts every file in it.
//
// A batch that breaks the count or size limits is rejected with a
// *conversations.ValidationError and nothing from it is kept. Files that fail
// extraction contribute NoExtractableContent and are listed in the report;
// they never stop their siblings.
func (i *Ingestor) Ingest(ctx context.Context, files []File) (Report, error) {
	if len(files) == 0 {
		return Report{}, nil
	}

	i.mu.Lock()
	if i.processing {
		i.mu.Unlock()
		return Report{}, ErrIngestInProgress
	}
	if err := i.validate(files); err != nil {
		i.mu.Unlock()
		return Report{}, err
	}
	i.files = append(i.files, files...)
	i.processing = true
	epoch := i.epoch
	i.mu.Unlock()
	i.options.OnProcessingChanged(true)

	defer func() {
		i.mu.Lock()
		i.processing = false
		i.mu.Unlock()
		i.options.OnProcessingChanged(false)
	}()

	ctx, span := tracer.Start(ctx, "ingest attachments")
	defer span.End()
	span.SetAttributes(attribute.Int("attachments.count", len(files)))

	extracted := make([]string, len(files))
	failures := make([]*ExtractionError, len(files))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(i.options.MaxConcurrent)
	for idx, file := range files {
		group.Go(func() error {
			text, err := i.extract(groupCtx, file)
			if err != nil {
				failures[idx] = &ExtractionError{File: file.Name, Err: err}
				text = NoExtractableContent
			}
			extracted[idx] = text
			return nil
		})
	}
	_ = group.Wait()

	report := Report{Accepted: len(files)}
	for _, failure := range failures {
		if failure == nil {
			continue
		}
		report.Failed = append(report.Failed, failure)
		span.RecordError(failure)
		logger.WarnContext(ctx, "attachment extraction failed", "file", failure.File, "error", failure.Err)
	}
	if len(report.Failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d attachments failed extraction", len(report.Failed), len(files)))
	}

	combined := strings.Join(extracted, "\n\n")
	i.mu.Lock()
	if i.epoch != epoch {
		i.mu.Unlock()
		logger.InfoContext(ctx, "attachments were cleared during extraction, dropping result", "count", len(files))
		return report, nil
	}
	if i.fragment != "" {
		i.fragment = i.fragment + "\n\n" + combined
	} else {
		i.fragment = combined
	}
	i.mu.Unlock()

	return report, nil
}

func (i *Ingestor) validate(files []File) error {
	if len(files)+len(i.files) > i.options.MaxFiles {
		return conversations.NewValidationError(fmt.Sprintf("You can upload a maximum of %d attachments.", i.options.MaxFiles))
	}
	for _, file := range files {
		if file.Size() > i.options.MaxFileBytes {
			return conversations.NewValidationError(fmt.Sprintf("%s exceeds %s limit", file.Name, formatBytes(i.options.MaxFileBytes)))
		}
	}
	return nil
}

func (i *Ingestor) extract(ctx context.Context, file File) (text string, err error) {
	if i.extractor == nil {
		return "", errors.New("no extraction service configured")
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("extraction panicked: %v", recovered)
		}
	}()

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(file.Data)
	}

	text, err = i.extractor.Extract(ctx, mimeType, file.Data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return NoExtractableContent, nil
	}
	return text, nil
}

// Context returns the accumulated fragment for the next turn.
func (i *Ingestor) Context() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.fragment
}

// Busy reports whether an extraction is in flight. Turn submission must wait
// until it is false.
func (i *Ingestor) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.processing
}

func (i *Ingestor) Files() []File {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]File(nil), i.files...)
}

// Remove drops a pending file. The accumulated fragment is discarded as a
// whole since it cannot be split back per file.
func (i *Ingestor) Remove(index int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if index < 0 || index >= len(i.files) {
		return
	}
	i.files = append(i.files[:index:index], i.files[index+1:]...)
	i.fragment = ""
	i.epoch++
}

// Clear forgets all files and extracted content, including the result of a
// batch that is still being extracted.
func (i *Ingestor) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.files = nil
	i.fragment = ""
	i.epoch++
}

func formatBytes(n int) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%dB", n)
}

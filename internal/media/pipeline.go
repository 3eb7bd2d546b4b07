package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oferrer/wa-gateway/internal/wa"
)

// Kind classifies a pipeline failure so the dispatch layer can pick an
// appropriate user-facing fallback message.
type Kind string

const (
	KindValidation Kind = "validation" // unsupported or malformed input
	KindTimeout    Kind = "timeout"    // pipeline deadline exceeded
	KindNetwork    Kind = "network"    // provider resolve/download failure
	KindStorage    Kind = "storage"    // local persistence failure
)

// PipelineError wraps a failure with its stage and classification.
type PipelineError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("media pipeline: %s (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Classify extracts the failure kind from err, defaulting to KindNetwork for
// unwrapped transport errors.
func Classify(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindNetwork
}

// Stored describes a media object persisted by the pipeline.
type Stored struct {
	Key      string
	URL      string
	MimeType string
	Size     int64
}

// Fetcher resolves and downloads provider-hosted media. Satisfied by
// *wa.Client.
type Fetcher interface {
	MediaURL(ctx context.Context, mediaID string) (*wa.MediaInfo, error)
	DownloadMedia(ctx context.Context, url string) ([]byte, string, error)
}

// Pipeline downloads provider media and persists it through a Store, bounding
// the whole resolve→download→store sequence with one deadline.
type Pipeline struct {
	Fetcher Fetcher
	Store   Store
	Timeout time.Duration
}

// NewPipeline constructs a Pipeline.
func NewPipeline(fetcher Fetcher, store Store, timeout time.Duration) *Pipeline {
	return &Pipeline{Fetcher: fetcher, Store: store, Timeout: timeout}
}

// extByMime maps the image types the pipeline accepts to file extensions.
// Receipts arrive as photos; anything else is a validation failure.
var extByMime = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// ProcessAndStore resolves mediaID, downloads its bytes, and persists them,
// returning the stored location. Every failure is a *PipelineError carrying
// its classification.
func (p *Pipeline) ProcessAndStore(ctx context.Context, mediaID string) (*Stored, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, &PipelineError{Kind: KindValidation, Stage: "resolve", Err: errors.New("empty media id")}
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	info, err := p.Fetcher.MediaURL(ctx, mediaID)
	if err != nil {
		return nil, wrap("resolve", err)
	}

	data, contentType, err := p.Fetcher.DownloadMedia(ctx, info.URL)
	if err != nil {
		return nil, wrap("download", err)
	}
	if len(data) == 0 {
		return nil, &PipelineError{Kind: KindValidation, Stage: "download", Err: errors.New("empty media body")}
	}

	mime := firstNonEmpty(info.MimeType, contentType)
	mime = strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
	ext, ok := extByMime[mime]
	if !ok {
		return nil, &PipelineError{Kind: KindValidation, Stage: "download", Err: fmt.Errorf("unsupported media type %q", mime)}
	}

	key := time.Now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + ext
	url, err := p.Store.Put(ctx, key, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &PipelineError{Kind: KindTimeout, Stage: "store", Err: err}
		}
		return nil, &PipelineError{Kind: KindStorage, Stage: "store", Err: err}
	}

	return &Stored{Key: key, URL: url, MimeType: mime, Size: int64(len(data))}, nil
}

// wrap classifies a resolve/download failure as timeout or network.
func wrap(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &PipelineError{Kind: KindTimeout, Stage: stage, Err: err}
	}
	return &PipelineError{Kind: KindNetwork, Stage: stage, Err: err}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

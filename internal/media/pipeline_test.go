package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oferrer/wa-gateway/internal/config"
	"github.com/oferrer/wa-gateway/internal/wa"
)

// fakeFetcher is a scriptable media resolver/downloader.
type fakeFetcher struct {
	info        *wa.MediaInfo
	resolveErr  error
	data        []byte
	contentType string
	downloadErr error
}

func (f *fakeFetcher) MediaURL(_ context.Context, _ string) (*wa.MediaInfo, error) {
	return f.info, f.resolveErr
}

func (f *fakeFetcher) DownloadMedia(_ context.Context, _ string) ([]byte, string, error) {
	return f.data, f.contentType, f.downloadErr
}

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(config.MediaConfig{Dir: t.TempDir(), BaseURL: "http://media.local/"})
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestProcessAndStore_HappyPath(t *testing.T) {
	store := newFSStore(t)
	p := NewPipeline(&fakeFetcher{
		info: &wa.MediaInfo{URL: "http://cdn/x", MimeType: "image/jpeg"},
		data: []byte{0xFF, 0xD8, 0xFF},
	}, store, time.Second)

	got, err := p.ProcessAndStore(context.Background(), "media-1")
	if err != nil {
		t.Fatalf("ProcessAndStore: %v", err)
	}
	if got.MimeType != "image/jpeg" || got.Size != 3 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !strings.HasPrefix(got.URL, "http://media.local/") || !strings.HasSuffix(got.URL, ".jpg") {
		t.Fatalf("URL = %q", got.URL)
	}
	data, err := os.ReadFile(filepath.Join(store.dir, filepath.FromSlash(got.Key)))
	if err != nil {
		t.Fatalf("stored file unreadable: %v", err)
	}
	if len(data) != 3 {
		t.Fatalf("stored %d bytes", len(data))
	}
}

func TestProcessAndStore_FailureClassification(t *testing.T) {
	store := newFSStore(t)
	cases := []struct {
		name    string
		fetcher *fakeFetcher
		mediaID string
		want    Kind
	}{
		{
			"empty media id",
			&fakeFetcher{},
			"  ",
			KindValidation,
		},
		{
			"resolve network failure",
			&fakeFetcher{resolveErr: errors.New("connection refused")},
			"m",
			KindNetwork,
		},
		{
			"resolve timeout",
			&fakeFetcher{resolveErr: context.DeadlineExceeded},
			"m",
			KindTimeout,
		},
		{
			"download failure",
			&fakeFetcher{info: &wa.MediaInfo{URL: "u"}, downloadErr: errors.New("reset")},
			"m",
			KindNetwork,
		},
		{
			"empty body",
			&fakeFetcher{info: &wa.MediaInfo{URL: "u", MimeType: "image/png"}},
			"m",
			KindValidation,
		},
		{
			"unsupported mime",
			&fakeFetcher{info: &wa.MediaInfo{URL: "u", MimeType: "application/pdf"}, data: []byte{1}},
			"m",
			KindValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPipeline(tc.fetcher, store, time.Second)
			_, err := p.ProcessAndStore(context.Background(), tc.mediaID)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err); got != tc.want {
				t.Fatalf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestProcessAndStore_ContentTypeFallback(t *testing.T) {
	// When the resolve step omits the mime type the CDN Content-Type decides.
	p := NewPipeline(&fakeFetcher{
		info:        &wa.MediaInfo{URL: "u"},
		data:        []byte{1, 2},
		contentType: "image/png; charset=binary",
	}, newFSStore(t), time.Second)

	got, err := p.ProcessAndStore(context.Background(), "m")
	if err != nil {
		t.Fatalf("ProcessAndStore: %v", err)
	}
	if got.MimeType != "image/png" || !strings.HasSuffix(got.Key, ".png") {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s := newFSStore(t)
	for _, key := range []string{"../escape.jpg", "/abs.jpg", "."} {
		if _, err := s.Put(context.Background(), key, []byte{1}); !errors.Is(err, ErrPathTraversal) {
			t.Fatalf("key %q: expected ErrPathTraversal, got %v", key, err)
		}
	}
}

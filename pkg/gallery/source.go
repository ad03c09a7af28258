package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrSampleNotFound is returned by a SampleSource when a sample does not exist.
var ErrSampleNotFound = errors.New("sample image not found")

// ErrSampleTooLarge is returned when a sample exceeds the source's size limit.
var ErrSampleTooLarge = errors.New("sample image too large")

// DefaultMaxSampleBytes caps a single sample download or file read.
const DefaultMaxSampleBytes = 32 << 20

// SampleSource returns the raw bytes of sample number index (1-based) for id.
type SampleSource interface {
	Sample(ctx context.Context, id Identity, index int) ([]byte, error)
}

// DirSource reads samples laid out as <Root>/<identity>/<index>.<ext>.
type DirSource struct {
	Root string
	// Extensions are tried in order. Defaults to .jpg, .jpeg, .png.
	Extensions []string
	// MaxBytes limits a sample's size. Zero means DefaultMaxSampleBytes.
	MaxBytes int64
}

// NewDirSource creates a DirSource with the default extensions.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (s *DirSource) extensions() []string {
	if len(s.Extensions) > 0 {
		return s.Extensions
	}
	return []string{".jpg", ".jpeg", ".png"}
}

// Sample implements SampleSource.
func (s *DirSource) Sample(ctx context.Context, id Identity, index int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.ContainsAny(string(id), `/\`) || id == "." || id == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIdentity, id)
	}

	base := filepath.Join(s.Root, string(id), strconv.Itoa(index))
	for _, ext := range s.extensions() {
		data, err := readFile(base+ext, s.MaxBytes)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrSampleTooLarge) {
			return nil, fmt.Errorf("sample %s%s: %w", base, ext, err)
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read sample %s%s: %w", base, ext, err)
		}
	}
	return nil, fmt.Errorf("%w: %s/%d", ErrSampleNotFound, id, index)
}

func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return readLimited(f, limit)
}

// readLimited reads r fully, failing with ErrSampleTooLarge instead of
// truncating when r holds more than limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxSampleBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSampleTooLarge, limit)
	}
	return data, nil
}

// Discover lists identity directories under Root in lexical order.
func (s *DirSource) Discover() ([]Identity, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery root %s: %w", s.Root, err)
	}

	var ids []Identity
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ids = append(ids, Identity(entry.Name()))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// HTTPSource fetches samples from <BaseURL>/<identity>/<index>.jpg.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
	// MaxBytes limits a sample's size. Zero means DefaultMaxSampleBytes.
	MaxBytes int64
}

// NewHTTPSource creates an HTTPSource with a bounded client timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Sample implements SampleSource. A 404 maps to ErrSampleNotFound.
func (s *HTTPSource) Sample(ctx context.Context, id Identity, index int) ([]byte, error) {
	sampleURL := fmt.Sprintf("%s/%s/%d.jpg", strings.TrimSuffix(s.BaseURL, "/"), url.PathEscape(string(id)), index)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sampleURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sample request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", sampleURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSampleNotFound, sampleURL)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("failed to fetch %s: bad status %s", sampleURL, resp.Status)
	}

	data, err := readLimited(resp.Body, s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sampleURL, err)
	}
	return data, nil
}

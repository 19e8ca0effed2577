// Package imageproc turns arbitrary image references into fixed-size square PNGs.
package imageproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Fit selects how a non-square source is mapped onto the square canvas.
type Fit int

const (
	// FitCover scales to fill the canvas and crops the overflow from the centre.
	FitCover Fit = iota
	// FitContain scales to fit inside the canvas and pads with white.
	FitContain
)

func (f Fit) String() string {
	if f == FitContain {
		return "contain"
	}
	return "cover"
}

const (
	maxSourceBytes = 20 << 20
	// defaultMaxPixels bounds the decoded size of a source; compressed formats can
	// describe far more pixels than their byte count suggests.
	defaultMaxPixels = 40_000_000
)

type Options struct {
	Size         int
	FetchTimeout time.Duration
	UserAgent    string
	// MaxPixels is the largest width×height accepted for decoding. Zero means 40 MP.
	MaxPixels int
}

type Normalizer struct {
	size      int
	timeout   time.Duration
	userAgent string
	maxPixels int
	client    *http.Client
	log       zerolog.Logger
}

func NewNormalizer(opts Options, client *http.Client, log zerolog.Logger) *Normalizer {
	if opts.Size <= 0 {
		opts.Size = 768
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = defaultMaxPixels
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Normalizer{
		size:      opts.Size,
		timeout:   opts.FetchTimeout,
		userAgent: opts.UserAgent,
		maxPixels: opts.MaxPixels,
		client:    client,
		log:       log,
	}
}

func (n *Normalizer) Size() int {
	return n.size
}

// Normalize loads ref (a data: URL or a remote URL) and re-encodes it as a size×size PNG.
// It returns nil for vector or XML content, fetch failures, timeouts and undecodable data.
func (n *Normalizer) Normalize(ctx context.Context, ref string, fit Fit) []byte {
	src, err := n.load(ctx, ref)
	if err != nil {
		n.log.Warn().Err(err).Str("ref", truncate(ref, 120)).Msg("image normalization skipped")
		return nil
	}
	out, err := n.render(src, fit)
	if err != nil {
		n.log.Warn().Err(err).Msg("image encode failed")
		return nil
	}
	return out
}

func (n *Normalizer) load(ctx context.Context, ref string) (image.Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty image reference")
	}
	if strings.HasPrefix(ref, "data:") {
		mediaType, data, err := parseDataURL(ref)
		if err != nil {
			return nil, err
		}
		if rejectedContentType(mediaType) {
			return nil, fmt.Errorf("unsupported content type %q", mediaType)
		}
		return n.decode(data)
	}
	return n.fetch(ctx, UpgradeURL(ref))
}

func (n *Normalizer) fetch(ctx context.Context, ref string) (image.Image, error) {
	parsed, err := url.Parse(ref)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid image url")
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	if rejectedContentType(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("unsupported content type %q", resp.Header.Get("Content-Type"))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return n.decode(data)
}

func (n *Normalizer) render(src image.Image, fit Fit) ([]byte, error) {
	var out *image.NRGBA
	switch fit {
	case FitContain:
		w, h := containSize(src.Bounds().Dx(), src.Bounds().Dy(), n.size)
		scaled := imaging.Resize(src, w, h, imaging.Lanczos)
		out = imaging.PasteCenter(imaging.New(n.size, n.size, color.White), scaled)
	default:
		filled := imaging.Fill(src, n.size, n.size, imaging.Center, imaging.Lanczos)
		out = imaging.Overlay(imaging.New(n.size, n.size, color.Black), filled, image.Pt(0, 0), 1.0)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// containSize scales (w, h) so the longer side equals size, up or down.
func containSize(w, h, size int) (int, int) {
	if w <= 0 || h <= 0 {
		return size, size
	}
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	sw := int(math.Round(float64(w) * scale))
	sh := int(math.Round(float64(h) * scale))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return min(sw, size), min(sh, size)
}

// UpgradeURL turns a protocol-relative reference into an https URL.
func UpgradeURL(ref string) string {
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return ref
}

func rejectedContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	return strings.Contains(lower, "svg") || strings.Contains(lower, "xml")
}

func parseDataURL(ref string) (string, []byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data url")
	}
	isBase64 := strings.HasSuffix(header, ";base64")
	mediaType := strings.TrimSuffix(header, ";base64")
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode data url: %w", err)
		}
		return mediaType, []byte(decoded), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return mediaType, data, nil
}

// decode reads the header first and refuses sources above the pixel budget before any
// pixel buffer is allocated.
func (n *Normalizer) decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(n.maxPixels) {
		return nil, fmt.Errorf("image is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, n.maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}

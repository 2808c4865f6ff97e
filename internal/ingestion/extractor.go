package ingestion

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jhillyerd/enmime"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/nl2sql-eval/backend/internal/metrics"
	"github.com/nl2sql-eval/backend/pkg/logger"
)

var ErrSourceMissing = errors.New("email source file not found")

var preferredExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tif",
}

// Extractor copies every image in one .eml file into the image directory.
type Extractor struct {
	fs         afero.Fs
	sourcePath string
	imageDir   string
	now        func() time.Time
}

func NewExtractor(fs afero.Fs, sourcePath, imageDir string) *Extractor {
	return &Extractor{
		fs:         fs,
		sourcePath: sourcePath,
		imageDir:   imageDir,
		now:        time.Now,
	}
}

func (e *Extractor) SourcePath() string {
	return e.sourcePath
}

type image struct {
	name        string
	contentType string
	content     []byte
}

// Extract writes the images and returns their paths in the order they appear
// in the message. Files with the same name are overwritten.
func (e *Extractor) Extract(ctx context.Context) ([]string, error) {
	logger.Info("Extracting images from email", zap.String("source", e.sourcePath))

	raw, err := afero.ReadFile(e.fs, e.sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, e.sourcePath)
		}
		return nil, fmt.Errorf("failed to read email: %w", err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}
	for _, perr := range env.Errors {
		logger.Debug("Email parse warning", zap.String("error", perr.Error()))
	}

	if err := e.fs.MkdirAll(e.imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	found := collectParts(env.Root)
	found = append(found, inlineDataImages(env.HTML)...)

	stamp := e.now().Format("20060102150405")
	synthesized := map[string]int{}
	paths := make([]string, 0, len(found))
	for _, img := range found {
		if err := ctx.Err(); err != nil {
			return paths, err
		}

		name := sanitizeName(img.name)
		if name == "" {
			name = synthesizeName(stamp, extensionFor(img.contentType), synthesized)
		}

		path := filepath.Join(e.imageDir, name)
		if err := afero.WriteFile(e.fs, path, img.content, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write image %s: %w", name, err)
		}

		logger.Debug("Image extracted", zap.String("path", path), zap.Int("bytes", len(img.content)))
		paths = append(paths, path)
	}

	metrics.ImagesExtracted.Add(float64(len(paths)))
	logger.Info("Images extracted", zap.String("source", e.sourcePath), zap.Int("count", len(paths)))
	return paths, nil
}

// collectParts walks the MIME tree depth-first and keeps every image part.
func collectParts(root *enmime.Part) []image {
	var out []image
	var walk func(p *enmime.Part)
	walk = func(p *enmime.Part) {
		for ; p != nil; p = p.NextSibling {
			if strings.HasPrefix(strings.ToLower(p.ContentType), "image/") {
				out = append(out, image{name: p.FileName, contentType: p.ContentType, content: p.Content})
			}
			walk(p.FirstChild)
		}
	}
	walk(root)
	return out
}

// inlineDataImages decodes <img src="data:image/...;base64,..."> elements in
// the HTML body.
func inlineDataImages(html string) []image {
	if strings.TrimSpace(html) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Warn("Failed to parse email HTML", zap.Error(err))
		return nil
	}

	var out []image
	doc.Find(`img[src^="data:image/"]`).Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		contentType, content, ok := decodeDataURI(src)
		if !ok {
			logger.Debug("Skipping undecodable inline image")
			return
		}
		name, _ := s.Attr("data-filename")
		out = append(out, image{name: name, contentType: contentType, content: content})
	})
	return out
}

func decodeDataURI(src string) (string, []byte, bool) {
	rest, ok := strings.CutPrefix(src, "data:")
	if !ok {
		return "", nil, false
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, false
	}
	contentType, params, _ := strings.Cut(meta, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, false
	}

	payload = strings.Join(strings.Fields(payload), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return strings.ToLower(contentType), data, true
}

// sanitizeName keeps only the base name of a declared attachment name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func synthesizeName(stamp, ext string, used map[string]int) string {
	name := "image-" + stamp + ext
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("image-%s-%d%s", stamp, n, ext)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

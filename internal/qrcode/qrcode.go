// Package qrcode renders PNG QR codes pointing at document pages.
package qrcode

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultSize      = 300
	defaultCacheSize = 256
)

// Generator encodes QR codes and keeps recently rendered images in memory.
type Generator struct {
	size  int
	cache *lru.Cache[string, []byte]
}

// NewGenerator creates a generator producing size x size images.
func NewGenerator(size, cacheSize int) (*Generator, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create qr cache: %w", err)
	}

	return &Generator{size: size, cache: cache}, nil
}

// PNG returns the encoded image for content.
func (g *Generator) PNG(content string) ([]byte, error) {
	cacheKey := strconv.Itoa(g.size) + "|" + content
	if img, ok := g.cache.Get(cacheKey); ok {
		return img, nil
	}

	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}

	code, err = barcode.Scale(code, g.size, g.size)
	if err != nil {
		return nil, fmt.Errorf("failed to scale qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}

	img := buf.Bytes()
	g.cache.Add(cacheKey, img)

	return img, nil
}

// Len returns the number of cached images.
func (g *Generator) Len() int {
	return g.cache.Len()
}

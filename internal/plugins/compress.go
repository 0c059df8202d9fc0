package plugins

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/assetpipe/internal/config"
	"github.com/wolfeidau/assetpipe/internal/emit"
	"github.com/wolfeidau/assetpipe/internal/hooks"
)

const (
	defaultCompressTest     = `\.(js|css|html|svg|json|txt)$`
	defaultCompressMinRatio = 0.8
	defaultCompressMinSize  = 1024
)

// Extensions appended to precompressed siblings.
const (
	GzipExt = ".gz"
	ZstdExt = ".zst"
)

// Compress adds precompressed siblings of text assets so they can be served
// without compressing per request.
type Compress struct {
	hooks.Base

	gzip      bool
	enc       *zstd.Encoder
	test      *regexp.Regexp
	threshold int64
	minRatio  float64
}

func NewCompress(opts config.CompressOptions) (*Compress, error) {
	c := &Compress{
		threshold: opts.Threshold,
		minRatio:  opts.MinRatio,
	}
	if c.threshold <= 0 {
		c.threshold = defaultCompressMinSize
	}
	if c.minRatio <= 0 {
		c.minRatio = defaultCompressMinRatio
	}

	pattern := opts.Test
	if pattern == "" {
		pattern = defaultCompressTest
	}
	test, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: compress test %q: %v", ErrInvalidOptions, pattern, err)
	}
	c.test = test

	algorithms := opts.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"gzip"}
	}
	for _, alg := range algorithms {
		switch alg {
		case "gzip":
			c.gzip = true
		case "zstd":
			if c.enc != nil {
				continue
			}
			c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
			if err != nil {
				return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported compression %q", ErrInvalidOptions, alg)
		}
	}
	return c, nil
}

func (c *Compress) Name() string { return "compress" }

func (c *Compress) Close() error {
	if c.enc != nil {
		return c.enc.Close()
	}
	return nil
}

func (c *Compress) OnAssetEmitted(_ context.Context, assets *emit.Assets) error {
	var added int
	var saved int64

	for _, a := range assets.All() {
		if int64(len(a.Data)) < c.threshold || !c.test.MatchString(a.Name) {
			continue
		}

		if c.gzip {
			data, err := gzipBytes(a.Data)
			if err != nil {
				return fmt.Errorf("failed to gzip %s: %w", a.Name, err)
			}
			ok, err := c.add(assets, a, GzipExt, data)
			if err != nil {
				return err
			}
			if ok {
				added++
				saved += int64(len(a.Data) - len(data))
			}
		}

		if c.enc != nil {
			data := c.enc.EncodeAll(a.Data, nil)
			ok, err := c.add(assets, a, ZstdExt, data)
			if err != nil {
				return err
			}
			if ok {
				added++
				saved += int64(len(a.Data) - len(data))
			}
		}
	}

	log.Debug().Int("assets", added).Int64("saved", saved).Msg("Assets compressed")
	return nil
}

// add stores a compressed sibling when it is small enough relative to the
// original.
func (c *Compress) add(assets *emit.Assets, src *emit.Asset, ext string, data []byte) (bool, error) {
	if float64(len(data))/float64(len(src.Data)) > c.minRatio {
		return false, nil
	}
	err := assets.Add(&emit.Asset{
		Name:      src.Name + ext,
		Data:      data,
		Kind:      emit.AssetOther,
		Chunk:     src.Chunk,
		Immutable: src.Immutable,
	})
	return err == nil, err
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package server

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/service/packager"
)

// service builds bundles from the source directories on every request,
// so edits are picked up without a restart.
type service struct {
	// rulesDir and decodersDir are the published directories.
	rulesDir, decodersDir string
	// pattern selects the published files.
	pattern string
	// encoding is used when a request does not ask for one.
	encoding bundle.ContentEncoding
	// served counts the bundles sent.
	served atomic.Int64
}

// newService validates the options and creates a service.
func newService(opts *Options) (*service, error) {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = bundle.DefaultPattern
	}

	if err := bundle.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	encoding := opts.Encoding
	if encoding == bundle.EncodingUnknown {
		encoding = bundle.EncodingCompressedArchive
	}

	return &service{
		rulesDir:    opts.RulesPath,
		decodersDir: opts.DecodersPath,
		pattern:     pattern,
		encoding:    encoding,
	}, nil
}

// Catalog returns the number of published files.
func (s *service) Catalog(ctx context.Context) (int, error) {
	files, err := packager.Collect(ctx, s.rulesDir, s.decodersDir, s.pattern)
	if err != nil {
		return 0, fmt.Errorf("collect files: %w", err)
	}

	return files.Len(bundle.CategoryRules) + files.Len(bundle.CategoryDecoders), nil
}

// Package encodes the published files. EncodingUnknown selects the default encoding.
func (s *service) Package(ctx context.Context, encoding bundle.ContentEncoding) ([]byte, bundle.ContentEncoding, error) {
	if encoding == bundle.EncodingUnknown {
		encoding = s.encoding
	}

	files, err := packager.Collect(ctx, s.rulesDir, s.decodersDir, s.pattern)
	if err != nil {
		return nil, encoding, fmt.Errorf("collect files: %w", err)
	}

	var buffer bytes.Buffer
	if err = packager.Encode(files, encoding, &buffer); err != nil {
		return nil, encoding, fmt.Errorf("encode bundle: %w", err)
	}

	served := s.served.Add(1)
	logger.InfoKV(ctx, "Bundle served",
		"encoding", encoding,
		"bytes", buffer.Len(),
		"rules", files.Len(bundle.CategoryRules),
		"decoders", files.Len(bundle.CategoryDecoders),
		"served_total", served)

	return buffer.Bytes(), encoding, nil
}

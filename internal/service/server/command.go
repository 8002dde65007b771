package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
)

const (
	// readHeaderTimeout bounds how long a client may take to send headers.
	readHeaderTimeout = 10 * time.Second
	// shutdownTimeout bounds the graceful shutdown.
	shutdownTimeout = 15 * time.Second
)

// ErrNoListenAddress indicates that neither an override nor a usable API URL was given.
var ErrNoListenAddress = errors.New("no listen address configured")

// Options controls the reference server.
type Options struct {
	// ListenAddress overrides the address derived from APIURL.
	ListenAddress string
	// APIURL is the URL pullers use; its port is used when ListenAddress is empty.
	APIURL string
	// APIKey is required from clients when not empty.
	APIKey string
	// RulesPath and DecodersPath are the published directories.
	RulesPath, DecodersPath string
	// Pattern selects the published files.
	Pattern string
	// Encoding is the default bundle encoding.
	Encoding bundle.ContentEncoding
}

// Run serves the API and blocks until the context is cancelled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "distribution-server")

	listenAddress, err := resolveListenAddress(opts.APIURL, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	handler, err := NewHandler(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	lc := net.ListenConfig{}

	// Cancellation is handled by the shutdown goroutine below.
	lis, err := lc.Listen(context.WithoutCancel(ctx), "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	if opts.APIKey == "" {
		logger.Warn(ctx, "No API key configured, the bundle is served to anyone")
	}

	logger.InfoKV(ctx, "Distribution server listening",
		"listen_address", lis.Addr().String(), "rules", opts.RulesPath, "decoders", opts.DecodersPath)

	// Done is closed after Shutdown finishes so Run returns only once the server stopped.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down distribution server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf(ctx, "Graceful shutdown failed after %s: %v", shutdownTimeout, err)
		}
	}()

	if err = httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}

	<-done
	logger.Info(ctx, "Distribution server stopped")

	return nil
}

// resolveListenAddress returns override when set, otherwise ":<port>" of apiURL.
func resolveListenAddress(apiURL, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if apiURL == "" {
		return "", ErrNoListenAddress
	}

	parsed, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", apiURL, err)
	}

	port := parsed.Port()
	if port == "" {
		switch parsed.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("%q: %w", apiURL, ErrNoListenAddress)
		}
	}

	return ":" + port, nil
}

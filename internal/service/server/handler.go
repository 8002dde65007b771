package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/oshokin/wazuh-puller/internal/domain/bundle"
	"github.com/oshokin/wazuh-puller/internal/logger"
	"github.com/oshokin/wazuh-puller/internal/service/distribution"
	"github.com/oshokin/wazuh-puller/internal/version"
)

// contentTypes maps bundle encodings to response content types.
var contentTypes = map[bundle.ContentEncoding]string{
	bundle.EncodingCompressedArchive: "application/gzip",
	bundle.EncodingRawArchive:        "application/x-tar",
	bundle.EncodingStructuredPayload: "application/json",
}

// NewHandler returns the HTTP API serving the configured directories.
func NewHandler(ctx context.Context, opts *Options) (http.Handler, error) {
	svc, err := newService(opts)
	if err != nil {
		return nil, err
	}

	return newHandler(ctx, svc, opts.APIKey), nil
}

func newHandler(ctx context.Context, svc *service, apiKey string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+distribution.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(ctx, w, http.StatusOK, distribution.HealthStatus{Status: "healthy", Version: version.Short()})
	})

	mux.Handle("GET "+distribution.CatalogPath, requireKey(apiKey, func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.Catalog(r.Context())
		if err != nil {
			logger.ErrorKV(ctx, "Catalog failed", "error", err)
			http.Error(w, "catalog unavailable", http.StatusInternalServerError)

			return
		}

		writeJSON(ctx, w, http.StatusOK, distribution.Catalog{Count: count})
	}))

	mux.Handle("GET "+distribution.BundlePath, requireKey(apiKey, func(w http.ResponseWriter, r *http.Request) {
		var requested bundle.ContentEncoding

		if format := r.URL.Query().Get("format"); format != "" {
			parsed, err := bundle.ParseEncoding(format)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			requested = parsed
		}

		data, encoding, err := svc.Package(r.Context(), requested)
		if err != nil {
			logger.ErrorKV(ctx, "Packaging failed", "error", err)
			http.Error(w, "bundle unavailable", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", contentTypes[encoding])
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))

	return mux
}

// requireKey rejects requests without the expected API key. An empty key disables the check.
func requireKey(apiKey string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(distribution.APIKeyHeader)
		if apiKey != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		next(w, r)
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WarnKV(ctx, "Unable to write response", "error", err)
	}
}

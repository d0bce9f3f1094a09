// Package auth verifies HMAC signatures on inbound webhook events.
// Producers sign the request body with a per-tenant shared secret; the
// server recomputes the digest and compares in constant time. Tenants
// without a secret file stay open, which keeps local development and
// trusted internal producers friction-free.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type tenantKey struct{}

// TenantFrom returns the tenant authenticated by Middleware. The second
// return is false on requests that did not pass through an enforcing
// middleware.
func TenantFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok
}

const (
	// SignatureHeader carries the body digest: sha256=<hex>.
	SignatureHeader = "X-Switchboard-Signature"

	// TenantHeader names the tenant whose secret signed the request.
	TenantHeader = "X-Switchboard-Tenant"

	maxBodyBytes = 1 << 20 // 1 MiB
)

// Verifier holds per-tenant webhook secrets for O(1) lookup.
type Verifier struct {
	secrets map[string][]byte
	log     *slog.Logger
}

// NewVerifier creates a verifier over an explicit secret map.
func NewVerifier(secrets map[string][]byte, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{secrets: secrets, log: log}
}

// LoadSecrets builds a verifier from per-tenant secret files at
// <root>/<tenant>/webhook.secret. A tenant without the file has no
// secret and accepts unsigned events.
func LoadSecrets(root string, tenants []string, log *slog.Logger) (*Verifier, error) {
	secrets := make(map[string][]byte)
	for _, tenant := range tenants {
		path := filepath.Join(root, tenant, "webhook.secret")
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read webhook secret for %s: %w", tenant, err)
		}
		secret := []byte(strings.TrimSpace(string(raw)))
		if len(secret) == 0 {
			return nil, fmt.Errorf("webhook secret for %s is empty", tenant)
		}
		secrets[tenant] = secret
	}
	return NewVerifier(secrets, log), nil
}

// Required reports whether any tenant has a secret configured.
func (v *Verifier) Required() bool {
	return len(v.secrets) > 0
}

// Verify checks the signature headers against the request body. A tenant
// with no configured secret passes unsigned; a tenant with a secret must
// present a matching signature.
func (v *Verifier) Verify(tenant string, header string, body []byte) error {
	secret, ok := v.secrets[tenant]
	if !ok {
		if header != "" {
			return ErrUnknownTenant
		}
		return nil
	}
	if header == "" {
		return ErrMissingSignature
	}

	claimed, err := ParseSignature(header)
	if err != nil {
		return err
	}
	if !VerifyHMAC(claimed, ComputeHMAC(secret, body)) {
		return ErrBadSignature
	}
	return nil
}

// Middleware enforces signatures on the wrapped handler. The body is
// read once for digest computation and replayed for the handler.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Required() {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		tenant := r.Header.Get(TenantHeader)
		if tenant == "" {
			http.Error(w, ErrMissingTenant.Error(), http.StatusUnauthorized)
			return
		}
		if err := v.Verify(tenant, r.Header.Get(SignatureHeader), body); err != nil {
			v.log.Warn("webhook signature rejected",
				"tenant", tenant, "path", r.URL.Path, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		// Handlers must scope the request to the tenant whose secret
		// authenticated it, never to a tenant named in the body.
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant)))
	})
}

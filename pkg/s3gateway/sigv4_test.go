package s3gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

const testSecret = "super-secret-key"

func signedRequest(t *testing.T, accessKeyID, secret string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/bucket/key", nil)
	signingTime := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	r.Header.Set("X-Amz-Date", signingTime.Format("20060102T150405Z"))
	r.Header.Set("X-Amz-Content-Sha256", "UNSIGNED-PAYLOAD")
	r.Header.Set("Host", "anvil.example.com")
	r.Host = "anvil.example.com"

	signedHeaders := []string{"host", "x-amz-content-sha256", "x-amz-date"}
	canonical := canonicalRequest(r, signedHeaders, "UNSIGNED-PAYLOAD")
	sts := stringToSign(signingTime, "us-east-1", "s3", canonical)
	sig := deriveSignature(secret, signingTime, "us-east-1", "s3", sts)

	credential := accessKeyID + "/20260115/us-east-1/s3/aws4_request"
	r.Header.Set("Authorization", "AWS4-HMAC-SHA256 Credential="+credential+
		", SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="+sig)
	return r
}

func TestSigV4VerifierAcceptsValidSignature(t *testing.T) {
	lookup := func(accessKeyID string) (string, int64, int64, []string, error) {
		require.Equal(t, "AKIATEST", accessKeyID)
		return testSecret, 1, 2, []string{"object:read|*"}, nil
	}
	v := NewSigV4Verifier(lookup)

	r := signedRequest(t, "AKIATEST", testSecret)
	claims, err := v.Verify(r)
	require.NoError(t, err)
	require.Equal(t, int64(1), claims.Subject)
	require.Equal(t, int64(2), claims.TenantID)
}

func TestSigV4VerifierRejectsWrongSecret(t *testing.T) {
	lookup := func(accessKeyID string) (string, int64, int64, []string, error) {
		return "a-completely-different-secret", 1, 2, nil, nil
	}
	v := NewSigV4Verifier(lookup)

	r := signedRequest(t, "AKIATEST", testSecret)
	_, err := v.Verify(r)
	require.Error(t, err)
	require.Equal(t, anvilerr.PermissionDenied, anvilerr.KindOf(err))
}

func TestSigV4VerifierAnonymousGetPassesThrough(t *testing.T) {
	v := NewSigV4Verifier(func(string) (string, int64, int64, []string, error) {
		t.Fatal("lookup should not be called for an unsigned GET")
		return "", 0, 0, nil, nil
	})

	r := httptest.NewRequest(http.MethodGet, "/bucket/key", nil)
	claims, err := v.Verify(r)
	require.NoError(t, err)
	require.Nil(t, claims)
}

func TestSigV4VerifierRejectsUnsignedPut(t *testing.T) {
	v := NewSigV4Verifier(func(string) (string, int64, int64, []string, error) {
		t.Fatal("lookup should not be called when the header is missing")
		return "", 0, 0, nil, nil
	})

	r := httptest.NewRequest(http.MethodPut, "/bucket/key", nil)
	_, err := v.Verify(r)
	require.Error(t, err)
	require.Equal(t, anvilerr.Unauthenticated, anvilerr.KindOf(err))
}

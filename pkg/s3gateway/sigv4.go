package s3gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

// SignatureVerifier authenticates an inbound HTTP request and, on success,
// returns the Claims it should run under. Returning (nil, nil) lets the
// request through unauthenticated, for GET/HEAD against a public bucket.
type SignatureVerifier interface {
	Verify(r *http.Request) (*types.Claims, error)
}

// CredentialLookup resolves an access key id to the app's decrypted secret,
// tenant id, and granted scopes.
type CredentialLookup func(accessKeyID string) (secret string, appID, tenantID int64, scopes []string, err error)

// SigV4Verifier implements AWS Signature Version 4 request signing
// verification: it rebuilds the canonical request exactly as the client
// would have built it and compares the resulting signature in constant
// time, without ever needing the caller's raw secret to leave this
// process. Grounded on original_source/src/s3_auth.rs's sigv4_auth, which
// performs the same canonical-request reconstruction using aws-sigv4;
// rebuilt here directly on crypto/hmac + crypto/sha256 since the
// signing-string/derived-key chain is protocol-fixed bytes, not a concern
// any example-pack library covers in Go (see DESIGN.md).
type SigV4Verifier struct {
	lookup CredentialLookup
}

// NewSigV4Verifier builds a SigV4Verifier.
func NewSigV4Verifier(lookup CredentialLookup) *SigV4Verifier {
	return &SigV4Verifier{lookup: lookup}
}

type parsedAuth struct {
	accessKeyID   string
	date          string
	region        string
	service       string
	signedHeaders []string
	signature     string
}

func (v *SigV4Verifier) Verify(r *http.Request) (*types.Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "AWS4-HMAC-SHA256 ") {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			return nil, nil
		}
		return nil, anvilerr.New(anvilerr.Unauthenticated, "missing AWS4-HMAC-SHA256 authorization header")
	}

	parsed, err := parseAuthHeader(header)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.InvalidArgument, "parse authorization header", err)
	}

	secret, appID, tenantID, scopes, err := v.lookup(parsed.accessKeyID)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unauthenticated, "resolve access key", err)
	}

	signingTime, err := signingTimeOf(r, parsed)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.InvalidArgument, "resolve signing time", err)
	}

	payloadHash := r.Header.Get("X-Amz-Content-Sha256")
	if payloadHash == "" {
		payloadHash = "UNSIGNED-PAYLOAD"
	}

	canonical := canonicalRequest(r, parsed.signedHeaders, payloadHash)
	stringToSign := stringToSign(signingTime, parsed.region, parsed.service, canonical)
	expected := deriveSignature(secret, signingTime, parsed.region, parsed.service, stringToSign)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.signature)) != 1 {
		return nil, anvilerr.New(anvilerr.PermissionDenied, "signature verification failed")
	}

	return &types.Claims{Subject: appID, TenantID: tenantID, Scopes: scopes}, nil
}

func parseAuthHeader(h string) (*parsedAuth, error) {
	after := strings.TrimPrefix(h, "AWS4-HMAC-SHA256 ")
	var credential, signature, signedHeaders string
	for _, part := range strings.Split(after, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "Credential="):
			credential = strings.TrimPrefix(part, "Credential=")
		case strings.HasPrefix(part, "SignedHeaders="):
			signedHeaders = strings.TrimPrefix(part, "SignedHeaders=")
		case strings.HasPrefix(part, "Signature="):
			signature = strings.TrimPrefix(part, "Signature=")
		}
	}
	if credential == "" || signature == "" || signedHeaders == "" {
		return nil, anvilerr.New(anvilerr.InvalidArgument, "incomplete AWS4-HMAC-SHA256 authorization header")
	}
	pieces := strings.SplitN(credential, "/", 5)
	if len(pieces) < 4 {
		return nil, anvilerr.New(anvilerr.InvalidArgument, "malformed credential scope")
	}
	headers := strings.Split(signedHeaders, ";")
	for i := range headers {
		headers[i] = strings.ToLower(strings.TrimSpace(headers[i]))
	}
	return &parsedAuth{
		accessKeyID:   pieces[0],
		date:          pieces[1],
		region:        pieces[2],
		service:       pieces[3],
		signedHeaders: headers,
		signature:     signature,
	}, nil
}

func signingTimeOf(r *http.Request, parsed *parsedAuth) (time.Time, error) {
	if amzDate := r.Header.Get("X-Amz-Date"); amzDate != "" {
		t, err := time.Parse("20060102T150405Z", amzDate)
		if err == nil {
			return t, nil
		}
	}
	return time.Parse("20060102", parsed.date)
}

func canonicalRequest(r *http.Request, signedHeaders []string, payloadHash string) string {
	canonicalURI := r.URL.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	query := r.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var qsParts []string
	for _, k := range keys {
		vals := query[k]
		sort.Strings(vals)
		for _, val := range vals {
			qsParts = append(qsParts, k+"="+val)
		}
	}
	canonicalQuery := strings.Join(qsParts, "&")

	set := make(map[string]bool, len(signedHeaders))
	for _, h := range signedHeaders {
		set[h] = true
	}
	headerValues := make(map[string]string)
	for name, vals := range r.Header {
		lower := strings.ToLower(name)
		if set[lower] {
			headerValues[lower] = strings.Join(vals, ",")
		}
	}
	if set["host"] && headerValues["host"] == "" {
		headerValues["host"] = r.Host
	}

	sorted := make([]string, 0, len(signedHeaders))
	sorted = append(sorted, signedHeaders...)
	sort.Strings(sorted)

	var canonicalHeaders strings.Builder
	for _, h := range sorted {
		canonicalHeaders.WriteString(h)
		canonicalHeaders.WriteByte(':')
		canonicalHeaders.WriteString(strings.TrimSpace(headerValues[h]))
		canonicalHeaders.WriteByte('\n')
	}

	parts := []string{
		r.Method,
		canonicalURI,
		canonicalQuery,
		canonicalHeaders.String(),
		strings.Join(sorted, ";"),
		payloadHash,
	}
	return strings.Join(parts, "\n")
}

func stringToSign(signingTime time.Time, region, service, canonicalRequest string) string {
	scope := signingTime.Format("20060102") + "/" + region + "/" + service + "/aws4_request"
	hash := sha256.Sum256([]byte(canonicalRequest))
	return strings.Join([]string{
		"AWS4-HMAC-SHA256",
		signingTime.Format("20060102T150405Z"),
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func deriveSignature(secret string, signingTime time.Time, region, service, stringToSign string) string {
	dateKey := hmacSHA256([]byte("AWS4"+secret), []byte(signingTime.Format("20060102")))
	regionKey := hmacSHA256(dateKey, []byte(region))
	serviceKey := hmacSHA256(regionKey, []byte(service))
	signingKey := hmacSHA256(serviceKey, []byte("aws4_request"))
	return hex.EncodeToString(hmacSHA256(signingKey, []byte(stringToSign)))
}

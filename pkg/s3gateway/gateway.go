// Package s3gateway serves the S3-compatible HTTP surface: PutObject,
// GetObject, HeadObject, DeleteObject, ListObjects, CreateBucket, and
// list-buckets, per SPEC_FULL.md §4.11.
//
// Grounded on gorilla/mux for routing (the example pack's idiomatic HTTP
// router of choice) and on the teacher's metrics-wrapped handler pattern,
// generalized from container lifecycle endpoints to S3 object verbs.
package s3gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/bucketmanager"
	"github.com/anvilfs/anvil/pkg/metrics"
	"github.com/anvilfs/anvil/pkg/objectmanager"
	"github.com/anvilfs/anvil/pkg/types"
)

// Gateway wires gorilla/mux routes to the object/bucket managers.
type Gateway struct {
	objects  *objectmanager.Manager
	buckets  *bucketmanager.Manager
	verifier SignatureVerifier
	logger   zerolog.Logger
}

// New builds a Gateway.
func New(objects *objectmanager.Manager, buckets *bucketmanager.Manager, verifier SignatureVerifier, logger zerolog.Logger) *Gateway {
	return &Gateway{objects: objects, buckets: buckets, verifier: verifier, logger: logger.With().Str("component", "s3gateway").Logger()}
}

// Router builds the gorilla/mux router for the gateway's routes.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(g.chunkedDecodingMiddleware)
	r.Use(g.authMiddleware)

	r.HandleFunc("/{bucket}", g.handleListBuckets).Methods(http.MethodGet).MatcherFunc(isBucketRootList)
	r.HandleFunc("/{bucket}", g.handleCreateBucket).Methods(http.MethodPut)
	r.HandleFunc("/{bucket}", g.handleListObjects).Methods(http.MethodGet)
	r.HandleFunc("/{bucket}/{key:.*}", g.handlePutObject).Methods(http.MethodPut)
	r.HandleFunc("/{bucket}/{key:.*}", g.handleGetObject).Methods(http.MethodGet)
	r.HandleFunc("/{bucket}/{key:.*}", g.handleHeadObject).Methods(http.MethodHead)
	r.HandleFunc("/{bucket}/{key:.*}", g.handleDeleteObject).Methods(http.MethodDelete)
	return r
}

func isBucketRootList(r *http.Request, rm *mux.RouteMatch) bool {
	return r.URL.Query().Has("list-type") || r.URL.Path == "/"
}

type claimsCtxKey struct{}

func claimsFromRequest(r *http.Request) *types.Claims {
	c, _ := r.Context().Value(claimsCtxKey{}).(*types.Claims)
	return c
}

func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch anvilerr.KindOf(err) {
	case anvilerr.InvalidArgument:
		status = http.StatusBadRequest
	case anvilerr.Unauthenticated:
		status = http.StatusUnauthorized
	case anvilerr.PermissionDenied:
		status = http.StatusForbidden
	case anvilerr.NotFound:
		status = http.StatusNotFound
	case anvilerr.AlreadyExists:
		status = http.StatusConflict
	case anvilerr.Unavailable:
		status = http.StatusServiceUnavailable
	case anvilerr.DeadlineExceeded:
		status = http.StatusGatewayTimeout
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (g *Gateway) handlePutObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, "s3", "PutObject")

	obj, err := g.objects.PutObject(r.Context(), claimsFromRequest(r), vars["bucket"], vars["key"], r.Body)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("s3", "PutObject", "error").Inc()
		g.writeError(w, err)
		return
	}
	metrics.RequestsTotal.WithLabelValues("s3", "PutObject", "ok").Inc()
	w.Header().Set("ETag", obj.ETag)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleGetObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RequestDuration, "s3", "GetObject")

	obj, chunks, errCh, err := g.objects.GetObject(r.Context(), claimsFromRequest(r), vars["bucket"], vars["key"])
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("s3", "GetObject", "error").Inc()
		g.writeError(w, err)
		return
	}
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if _, werr := w.Write(chunk); werr != nil {
			return
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	if err := <-errCh; err != nil {
		g.logger.Error().Err(err).Msg("get_object stream failed after headers were sent")
	}
	metrics.RequestsTotal.WithLabelValues("s3", "GetObject", "ok").Inc()
}

func (g *Gateway) handleHeadObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	obj, err := g.objects.HeadObject(claimsFromRequest(r), vars["bucket"], vars["key"])
	if err != nil {
		g.writeError(w, err)
		return
	}
	w.Header().Set("ETag", obj.ETag)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := g.objects.DeleteObject(claimsFromRequest(r), vars["bucket"], vars["key"]); err != nil {
		g.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleListObjects(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("max-keys"))

	result, err := g.objects.ListObjects(claimsFromRequest(r), vars["bucket"], q.Get("prefix"), q.Get("start-after"), q.Get("delimiter"), limit)
	if err != nil {
		g.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

func (g *Gateway) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	region := r.Header.Get("X-Anvil-Region")
	bucket, err := g.buckets.CreateBucket(claimsFromRequest(r), vars["bucket"], region)
	if err != nil {
		g.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/"+bucket.Name)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := g.buckets.ListBuckets(claimsFromRequest(r))
	if err != nil {
		g.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(buckets)
}

// authMiddleware runs the SignatureVerifier; on success it attaches a
// synthesized Claims record. On failure it lets the request through
// without claims — the Object Manager enforces the public-bucket bypass
// and rejects non-public access with PermissionDenied/Unauthenticated.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := g.verifier.Verify(r)
		if err == nil && claims != nil {
			ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// chunkedDecodingMiddleware unwraps aws-chunked transfer-encoded bodies
// before they reach a handler, so PutObject always sees the plain payload.
func (g *Gateway) chunkedDecodingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") == "aws-chunked" || r.Header.Get("X-Amz-Content-Sha256") == "STREAMING-AWS4-HMAC-SHA256-PAYLOAD" {
			r.Body = io.NopCloser(NewChunkedReader(r.Body))
		}
		next.ServeHTTP(w, r)
	})
}

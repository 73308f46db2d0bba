package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

const defaultHFBaseURL = "https://huggingface.co"

// RepoFile is one entry in a Hugging Face repository tree listing.
type RepoFile struct {
	Path string `json:"path"`
	Type string `json:"type"` // "file" or "directory"
	Size int64  `json:"size"`
}

// HFClient lists and downloads files from a Hugging Face repository. No
// example-pack repo carries an HTTP client library with a client this
// narrow (list-tree + GET-raw-file); built directly on net/http, in the
// idiom of the teacher's own pkg/ API clients (see DESIGN.md).
type HFClient struct {
	baseURL string
	http    *http.Client
}

// NewHFClient builds an HFClient. baseURL defaults to https://huggingface.co.
func NewHFClient(baseURL string) *HFClient {
	if baseURL == "" {
		baseURL = defaultHFBaseURL
	}
	return &HFClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// ListFiles recursively lists every file (not directory) entry under repo
// at revision, using the Hugging Face tree API.
func (c *HFClient) ListFiles(ctx context.Context, repo, revision, token string) ([]RepoFile, error) {
	if revision == "" {
		revision = "main"
	}
	url := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", c.baseURL, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "build tree request", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unavailable, "list repo files", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, anvilerr.New(anvilerr.Unavailable, fmt.Sprintf("hf tree listing returned %d", resp.StatusCode))
	}

	var files []RepoFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "decode tree listing", err)
	}

	out := make([]RepoFile, 0, len(files))
	for _, f := range files {
		if f.Type == "file" {
			out = append(out, f)
		}
	}
	return out, nil
}

// DownloadFile streams the raw contents of path at revision. The caller
// must close the returned ReadCloser.
func (c *HFClient) DownloadFile(ctx context.Context, repo, revision, path, token string) (io.ReadCloser, error) {
	if revision == "" {
		revision = "main"
	}
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, revision, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "build download request", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unavailable, "download repo file", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, anvilerr.New(anvilerr.Unavailable, fmt.Sprintf("hf file download returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

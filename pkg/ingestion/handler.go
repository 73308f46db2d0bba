// Package ingestion implements the HFIngestion task handler: it lists a
// Hugging Face repository's files, filters them by include/exclude globs,
// downloads and re-uploads each match through the Object Manager, and
// writes a merged anvil-index.json summary to the target bucket.
//
// Grounded on original_source/anvil/src/services/huggingface.rs's
// start_ingestion/HfIngestionService flow (job creation + task enqueue)
// and on original_source/src/s3_auth.rs's retry-on-failure texture;
// include/exclude filtering uses github.com/gobwas/glob, per
// SPEC_FULL.md's DOMAIN STACK.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/objectmanager"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

const (
	maxPerFileAttempts = 3
	indexFileName      = "anvil-index.json"
)

// Deps bundles the collaborators HandleHFIngestion needs.
type Deps struct {
	Regional      *regionalstore.Store
	Objects       *objectmanager.Manager
	HF            *HFClient
	EncryptionKey [32]byte
	Logger        zerolog.Logger
}

// NewDeps builds Deps.
func NewDeps(regional *regionalstore.Store, objects *objectmanager.Manager, hf *HFClient, encryptionKey [32]byte, logger zerolog.Logger) *Deps {
	return &Deps{Regional: regional, Objects: objects, HF: hf, EncryptionKey: encryptionKey, Logger: logger.With().Str("component", "ingestion").Logger()}
}

// Register installs the HFIngestion handler on pool.
func Register(pool *taskqueue.Pool, deps *Deps) {
	pool.Register(types.TaskHFIngestion, deps.HandleHFIngestion)
}

// StartJob records a new ingestion job row and enqueues the task that will
// run it, returning the assigned job ID.
func StartJob(regional *regionalstore.Store, queue *taskqueue.Queue, job *types.IngestionJob) (int64, error) {
	job.Status = types.IngestionQueued
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	if err := regional.CreateIngestionJob(job); err != nil {
		return 0, err
	}
	if _, err := queue.Enqueue(types.TaskHFIngestion, types.HFIngestionPayload{JobID: job.ID}, 100); err != nil {
		return 0, err
	}
	return job.ID, nil
}

// indexEntry is one row of the anvil-index.json summary.
type indexEntry struct {
	SourcePath string `json:"source_path"`
	TargetKey  string `json:"target_key"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag"`
}

// indexFile is the anvil-index.json wire shape.
type indexFile struct {
	Repo        string       `json:"repo"`
	Revision    string       `json:"revision"`
	GeneratedAt time.Time    `json:"generated_at"`
	Items       []indexEntry `json:"items"`
}

// HandleHFIngestion runs one ingestion job end to end: list, filter,
// download, store, index.
func (d *Deps) HandleHFIngestion(ctx context.Context, task *types.Task) error {
	var payload types.HFIngestionPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "unmarshal hf_ingestion payload", err)
	}

	job, err := d.Regional.GetIngestionJob(payload.JobID)
	if err != nil {
		return err
	}

	job.Status = types.IngestionRunning
	job.UpdatedAt = time.Now()
	if err := d.Regional.UpdateIngestionJob(job); err != nil {
		return err
	}

	key, err := d.Regional.GetIngestionKey(job.KeyID)
	if err != nil {
		return d.failJob(job, err)
	}
	tokenBytes, err := DecryptToken(key.EncryptedToken, d.EncryptionKey)
	if err != nil {
		return d.failJob(job, err)
	}
	token := string(tokenBytes)

	files, err := d.HF.ListFiles(ctx, job.SourceRepo, job.Revision, token)
	if err != nil {
		return d.failJob(job, err)
	}

	includes, err := compileGlobs(job.IncludeGlobs)
	if err != nil {
		return d.failJob(job, err)
	}
	excludes, err := compileGlobs(job.ExcludeGlobs)
	if err != nil {
		return d.failJob(job, err)
	}

	claims := &types.Claims{TenantID: job.TenantID, Scopes: []string{auth.Scope{Action: auth.ActionAll, Pattern: "*"}.String()}}

	var stored []indexEntry
	var anyFailed bool
	for _, f := range files {
		if !matchesFilters(f.Path, includes, excludes) {
			continue
		}

		targetKey := f.Path
		if job.TargetPrefix != "" {
			targetKey = path.Join(job.TargetPrefix, f.Path)
		}

		item := &types.IngestionItem{JobID: job.ID, SourcePath: f.Path, TargetKey: targetKey, State: types.ItemQueued, Size: f.Size}
		if err := d.Regional.PutIngestionItem(item); err != nil {
			return err
		}

		if existing, err := d.Objects.HeadObject(claims, job.TargetBucket, targetKey); err == nil {
			item.State = types.ItemSkipped
			item.Size = existing.Size
			item.ETag = existing.ETag
			_ = d.Regional.PutIngestionItem(item)
			stored = append(stored, indexEntry{SourcePath: f.Path, TargetKey: targetKey, Size: existing.Size, ETag: existing.ETag})
			continue
		}

		item.State = types.ItemDownloading
		_ = d.Regional.PutIngestionItem(item)

		obj, err := d.storeFileWithRetry(ctx, job, targetKey, f, token, claims)
		if err != nil {
			anyFailed = true
			item.State = types.ItemFailed
			item.LastError = err.Error()
			_ = d.Regional.PutIngestionItem(item)
			d.Logger.Warn().Err(err).Str("source_path", f.Path).Int64("job_id", job.ID).Msg("hf ingestion item failed")
			continue
		}

		item.State = types.ItemStored
		item.Size = obj.Size
		item.ETag = obj.ETag
		if err := d.Regional.PutIngestionItem(item); err != nil {
			return err
		}
		stored = append(stored, indexEntry{SourcePath: f.Path, TargetKey: targetKey, Size: obj.Size, ETag: obj.ETag})
	}

	if len(stored) > 0 {
		if err := d.writeIndex(ctx, job, claims, stored); err != nil {
			d.Logger.Warn().Err(err).Int64("job_id", job.ID).Msg("failed to write anvil-index.json")
		}
	}

	if anyFailed && len(stored) == 0 {
		job.Status = types.IngestionFailed
	} else {
		job.Status = types.IngestionCompleted
	}
	job.UpdatedAt = time.Now()
	return d.Regional.UpdateIngestionJob(job)
}

func (d *Deps) failJob(job *types.IngestionJob, cause error) error {
	job.Status = types.IngestionFailed
	job.UpdatedAt = time.Now()
	if err := d.Regional.UpdateIngestionJob(job); err != nil {
		return err
	}
	return cause
}

// storeFileWithRetry downloads and stores one file, retrying up to
// maxPerFileAttempts times with exponential backoff and jitter.
func (d *Deps) storeFileWithRetry(ctx context.Context, job *types.IngestionJob, targetKey string, f RepoFile, token string, claims *types.Claims) (*types.Object, error) {
	var lastErr error
	for attempt := 0; attempt < maxPerFileAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		obj, err := d.storeFileOnce(ctx, job, targetKey, f, token, claims)
		if err == nil {
			return obj, nil
		}
		lastErr = err
	}
	return nil, anvilerr.Wrap(anvilerr.Internal, fmt.Sprintf("hf ingestion file %s failed after %d attempts", f.Path, maxPerFileAttempts), lastErr)
}

func (d *Deps) storeFileOnce(ctx context.Context, job *types.IngestionJob, targetKey string, f RepoFile, token string, claims *types.Claims) (*types.Object, error) {
	rc, err := d.HF.DownloadFile(ctx, job.SourceRepo, job.Revision, f.Path, token)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return d.Objects.PutObject(ctx, claims, job.TargetBucket, targetKey, rc)
}

// writeIndex merges freshly-stored items with any pre-existing index object
// and re-uploads the combined anvil-index.json.
func (d *Deps) writeIndex(ctx context.Context, job *types.IngestionJob, claims *types.Claims, freshItems []indexEntry) error {
	indexKey := indexFileName
	if job.TargetPrefix != "" {
		indexKey = path.Join(job.TargetPrefix, indexFileName)
	}

	merged := map[string]indexEntry{}
	if _, chunks, errCh, err := d.Objects.GetObject(ctx, claims, job.TargetBucket, indexKey); err == nil {
		var buf []byte
		for chunk := range chunks {
			buf = append(buf, chunk...)
		}
		if getErr := <-errCh; getErr == nil {
			var existing indexFile
			if json.Unmarshal(buf, &existing) == nil {
				for _, item := range existing.Items {
					merged[item.TargetKey] = item
				}
			}
		}
	}
	for _, item := range freshItems {
		merged[item.TargetKey] = item
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]indexEntry, 0, len(keys))
	for _, k := range keys {
		items = append(items, merged[k])
	}

	out := indexFile{Repo: job.SourceRepo, Revision: job.Revision, GeneratedAt: time.Now(), Items: items}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal anvil-index.json", err)
	}

	_, err = d.Objects.PutObject(ctx, claims, job.TargetBucket, indexKey, bytes.NewReader(data))
	return err
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, anvilerr.Wrap(anvilerr.InvalidArgument, fmt.Sprintf("invalid glob %q", p), err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesFilters(path string, includes, excludes []glob.Glob) bool {
	for _, g := range excludes {
		if g.Match(path) {
			return false
		}
	}
	if len(includes) == 0 {
		return true
	}
	for _, g := range includes {
		if g.Match(path) {
			return true
		}
	}
	return false
}

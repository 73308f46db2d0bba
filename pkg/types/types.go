// Package types defines Anvil's core data model: the tree of
// Tenant -> Bucket -> Object, the flat Peer/Policy/Task/Ingestion rows, and
// the bearer Claims carried on every authenticated request.
package types

import "time"

// Tenant is an identity scope owning buckets, apps, and policies.
type Tenant struct {
	ID   int64
	Name string
}

// App is a client principal that presents credentials to obtain bearer
// Claims.
type App struct {
	ID                 int64
	Name               string
	ClientID           string
	EncryptedSecret    []byte
	TenantID           int64
}

// Bucket is a global-scope namespace, unique by name among non-deleted
// rows.
type Bucket struct {
	ID           int64
	TenantID     int64
	Name         string
	Region       string
	IsPublicRead bool
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// Object is regional metadata for one stored payload, either written whole
// to a single peer or striped across a ShardMap.
type Object struct {
	ID          int64
	TenantID    int64
	BucketID    int64
	Key         string
	ContentHash string
	Size        int64
	ETag        string
	VersionID   string
	ShardMap    []string // peer identities, index == shard index; nil when whole
	Checksum    string
	Metadata    map[string]string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Peer is a cluster membership record, inserted on gossip discovery and
// removed on gossip expiry.
type Peer struct {
	Identity   string
	P2PAddrs   []string
	GRPCAddr   string
	LastSeen   time.Time
}

// Policy is an authorization grant materialized into a Claims' scopes at
// token-mint time.
type Policy struct {
	ID             int64
	AppID          int64
	Action         string
	ResourcePattern string
}

// Claims is the verified bearer credential payload attached to a request
// context.
type Claims struct {
	Subject   int64    // app id
	TenantID  int64
	ExpiresAt int64 // unix seconds
	Scopes    []string
}

// TaskStatus is the closed set of Task lifecycle states.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskDeadLetter TaskStatus = "dead_letter"
)

// TaskType is the closed set of durable queue task types.
type TaskType string

const (
	TaskDeleteObject   TaskType = "DELETE_OBJECT"
	TaskDeleteBucket   TaskType = "DELETE_BUCKET"
	TaskRebalanceShard TaskType = "REBALANCE_SHARD" // reserved: nothing enqueues it and no handler is registered
	TaskHFIngestion    TaskType = "HF_INGESTION"
)

// Task is a durable queue row. A row in Running is owned by exactly one
// worker via the claim-and-lock transaction in pkg/taskqueue.
type Task struct {
	ID          int64
	Type        TaskType
	Payload     []byte // json
	Status      TaskStatus
	Attempts    int
	Priority    int
	LastError   string
	CreatedAt   time.Time
	ScheduledAt time.Time
	UpdatedAt   time.Time
}

// DeleteObjectPayload is the Task.Payload shape for TaskDeleteObject.
type DeleteObjectPayload struct {
	ObjectID    int64    `json:"object_id"`
	ContentHash string   `json:"content_hash"`
	Region      string   `json:"region"`
	ShardMap    []string `json:"shard_map,omitempty"`
}

// DeleteBucketPayload is the Task.Payload shape for TaskDeleteBucket.
type DeleteBucketPayload struct {
	BucketID int64 `json:"bucket_id"`
}

// HFIngestionPayload is the Task.Payload shape for TaskHFIngestion.
type HFIngestionPayload struct {
	JobID int64 `json:"job_id"`
}

// IngestionStatus is the closed set of ingestion job states.
type IngestionStatus string

const (
	IngestionQueued    IngestionStatus = "queued"
	IngestionRunning   IngestionStatus = "running"
	IngestionCompleted IngestionStatus = "completed"
	IngestionFailed    IngestionStatus = "failed"
	IngestionCanceled  IngestionStatus = "canceled"
)

// IngestionJob is one external-source import (currently: Hugging Face
// repositories) targeting a bucket prefix.
type IngestionJob struct {
	ID              int64
	KeyID           int64
	TenantID        int64
	RequesterAppID  int64
	SourceRepo      string
	Revision        string
	TargetBucket    string
	TargetRegion    string
	TargetPrefix    string
	IncludeGlobs    []string
	ExcludeGlobs    []string
	Status          IngestionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IngestionItemState is the closed set of per-file ingestion states.
type IngestionItemState string

const (
	ItemQueued      IngestionItemState = "queued"
	ItemDownloading IngestionItemState = "downloading"
	ItemStored      IngestionItemState = "stored"
	ItemFailed      IngestionItemState = "failed"
	ItemSkipped     IngestionItemState = "skipped"
)

// IngestionItem is one file within an IngestionJob.
type IngestionItem struct {
	JobID     int64
	SourcePath string
	TargetKey string
	State     IngestionItemState
	Size      int64
	ETag      string
	LastError string
}

// IngestionKey is a stored, encrypted-at-rest upstream credential
// (Hugging Face token), decrypted only at task-handler time.
type IngestionKey struct {
	ID            int64
	TenantID      int64
	Name          string
	EncryptedToken []byte // AEAD ciphertext, nonce-prefixed
	CreatedAt     time.Time
	DeletedAt     *time.Time
}

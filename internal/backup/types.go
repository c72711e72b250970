package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ArtifactState tracks the lifecycle of one backup artifact.
// Transitions are monotonic: pending -> stored -> verified -> expiring -> deleted.
// failed is reachable from pending, stored and verified (reconciliation
// orphans); stored may also skip to expiring when retention reaps an
// artifact that never got verified.
type ArtifactState string

const (
	StatePending  ArtifactState = "PENDING"
	StateStored   ArtifactState = "STORED"
	StateVerified ArtifactState = "VERIFIED"
	StateExpiring ArtifactState = "EXPIRING"
	StateDeleted  ArtifactState = "DELETED"
	StateFailed   ArtifactState = "FAILED"
)

// stateRank orders the monotonic chain. failed sits outside the chain and
// is handled explicitly in CanTransition.
var stateRank = map[ArtifactState]int{
	StatePending:  0,
	StateStored:   1,
	StateVerified: 2,
	StateExpiring: 3,
	StateDeleted:  4,
}

// CanTransition reports whether moving from to next respects the lifecycle
// ordering. Backward moves, repeats and skips over more than one level are
// rejected, with one exception: retention may reap an aged artifact that was
// stored but never verified, so stored -> expiring skips over verified.
func CanTransition(from, to ArtifactState) bool {
	if from == StateFailed || from == StateDeleted {
		return false
	}
	if to == StateFailed {
		return from == StatePending || from == StateStored || from == StateVerified
	}
	if from == StateStored && to == StateExpiring {
		return true
	}
	fromRank, ok := stateRank[from]
	if !ok {
		return false
	}
	toRank, ok := stateRank[to]
	if !ok {
		return false
	}
	if toRank != fromRank+1 {
		return false
	}
	// pending may never jump to deleted territory without a stored write;
	// the one-step rule above already guarantees that.
	return true
}

// Artifact is the manifest record for one immutable backup output.
type Artifact struct {
	ID          string          `json:"id" yaml:"id"`
	SourceID    string          `json:"source_id" yaml:"source_id"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	Size        int64           `json:"size" yaml:"size"`
	Digest      string          `json:"digest" yaml:"digest"`
	Compression CompressionType `json:"compression" yaml:"compression"`
	Encrypted   bool            `json:"encrypted" yaml:"encrypted"`
	KeyRef      string          `json:"key_ref,omitempty" yaml:"key_ref,omitempty"`
	StorageKey  string          `json:"storage_key" yaml:"storage_key"`
	State       ArtifactState   `json:"state" yaml:"state"`
	UpdatedAt   time.Time       `json:"updated_at" yaml:"updated_at"`
}

// Validate validates the Artifact record
func (a *Artifact) Validate() error {
	var errs ValidationErrors

	if a.ID == "" {
		errs.Add("id", "artifact ID is required", a.ID)
	}
	if a.SourceID == "" {
		errs.Add("source_id", "source ID is required", a.SourceID)
	}
	if a.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", a.CreatedAt)
	}
	if a.Size < 0 {
		errs.Add("size", "artifact size cannot be negative", a.Size)
	}
	if a.StorageKey == "" {
		errs.Add("storage_key", "storage key is required", a.StorageKey)
	}
	if a.State == "" {
		errs.Add("state", "artifact state is required", a.State)
	} else if !IsValidArtifactState(a.State) {
		errs.Add("state", "invalid artifact state", a.State)
	}
	if a.State == StateVerified && a.Digest == "" {
		errs.Add("digest", "verified artifact must carry a digest", a.Digest)
	}
	if a.Compression != "" && !isValidCompressionType(a.Compression) {
		errs.Add("compression", "invalid compression type", a.Compression)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// RunOutcome classifies a completed orchestration run.
type RunOutcome string

const (
	RunOutcomeSuccess RunOutcome = "SUCCESS"
	RunOutcomePartial RunOutcome = "PARTIAL"
	RunOutcomeFailed  RunOutcome = "FAILED"
	RunOutcomeSkipped RunOutcome = "SKIPPED"
)

// RunRecord is the append-only audit entry for one orchestration run.
type RunRecord struct {
	RunID           string     `json:"run_id"`
	SourceID        string     `json:"source_id"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
	Outcome         RunOutcome `json:"outcome"`
	ArtifactID      string     `json:"artifact_id,omitempty"`
	BytesWritten    int64      `json:"bytes_written"`
	ExpiredCount    int        `json:"expired_count"`
	ReconciledCount int        `json:"reconciled_count"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
}

// Duration returns the wall time the run took.
func (r *RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Validate validates the RunRecord
func (r *RunRecord) Validate() error {
	var errs ValidationErrors

	if r.RunID == "" {
		errs.Add("run_id", "run ID is required", r.RunID)
	}
	if r.SourceID == "" {
		errs.Add("source_id", "source ID is required", r.SourceID)
	}
	if r.StartedAt.IsZero() {
		errs.Add("started_at", "start timestamp is required", r.StartedAt)
	}
	if !isValidRunOutcome(r.Outcome) {
		errs.Add("outcome", "invalid run outcome", r.Outcome)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// CompressionType identifies a compression codec.
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageProviderType identifies a storage backend implementation.
type StorageProviderType string

const (
	StorageProviderLocal StorageProviderType = "LOCAL"
	StorageProviderS3    StorageProviderType = "S3"
	StorageProviderAzure StorageProviderType = "AZURE"
	StorageProviderGCS   StorageProviderType = "GCS"
)

// LockProviderType identifies a run-lock backend implementation.
type LockProviderType string

const (
	LockProviderLocal LockProviderType = "LOCAL"
	LockProviderRedis LockProviderType = "REDIS"
)

// GenerateArtifactID produces a unique, sortable artifact identifier for a
// source. The timestamp prefix keeps listings chronological; the uuid
// suffix disambiguates artifacts created in the same second.
func GenerateArtifactID(sourceID string, createdAt time.Time) string {
	timestamp := createdAt.UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", sourceID, timestamp, short)
}

// GenerateRunID produces a unique run identifier.
func GenerateRunID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	short := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("run-%s-%s", timestamp, short)
}

// FormatDigest renders a sha256 sum in the canonical "sha256:<hex>" form.
func FormatDigest(sum []byte) string {
	return "sha256:" + hex.EncodeToString(sum)
}

// CalculateDigest computes the canonical digest of a byte slice.
func CalculateDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return FormatDigest(sum[:])
}

// Helper functions for validation

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	default:
		return false
	}
}

// IsValidArtifactState reports whether state is a known lifecycle state
func IsValidArtifactState(state ArtifactState) bool {
	switch state {
	case StatePending, StateStored, StateVerified, StateExpiring, StateDeleted, StateFailed:
		return true
	default:
		return false
	}
}

func isValidStorageProviderType(provider StorageProviderType) bool {
	switch provider {
	case StorageProviderLocal, StorageProviderS3, StorageProviderAzure, StorageProviderGCS:
		return true
	default:
		return false
	}
}

func isValidLockProviderType(provider LockProviderType) bool {
	switch provider {
	case LockProviderLocal, LockProviderRedis:
		return true
	default:
		return false
	}
}

func isValidRunOutcome(outcome RunOutcome) bool {
	switch outcome {
	case RunOutcomeSuccess, RunOutcomePartial, RunOutcomeFailed, RunOutcomeSkipped:
		return true
	default:
		return false
	}
}

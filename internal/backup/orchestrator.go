package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"dbkeeper/internal/logging"
)

// RunReport is the structured output of one orchestration run
type RunReport struct {
	RunID           string        `json:"run_id"`
	SourceID        string        `json:"source_id"`
	Outcome         RunOutcome    `json:"outcome"`
	ArtifactID      string        `json:"artifact_id,omitempty"`
	BytesWritten    int64         `json:"bytes_written"`
	Duration        time.Duration `json:"duration"`
	ExpiredCount    int           `json:"expired_count"`
	ReconciledCount int           `json:"reconciled_count"`
	ErrorDetail     string        `json:"error_detail,omitempty"`
}

// Orchestrator drives backup runs end-to-end: lock, reconcile, build, store,
// verify, retain, report. It holds no per-run state; each RunOnce call gets
// its own run record and the run lock for its source.
type Orchestrator struct {
	config   *SystemConfig
	backend  Backend
	manifest ManifestStore
	locker   Locker
	logger   *logging.Logger
	owner    string
}

// NewOrchestrator wires an orchestrator from pre-built collaborators
func NewOrchestrator(config *SystemConfig, backend Backend, manifest ManifestStore, locker Locker, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	hostname, _ := os.Hostname()
	return &Orchestrator{
		config:   config,
		backend:  backend,
		manifest: manifest,
		locker:   locker,
		logger:   logger,
		owner:    fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// NewOrchestratorFromConfig builds all collaborators from configuration
func NewOrchestratorFromConfig(ctx context.Context, config *SystemConfig, logger *logging.Logger) (*Orchestrator, error) {
	if config == nil {
		return nil, NewConfigurationError("configuration is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid configuration", err)
	}

	backend, err := NewBackendFactory().CreateBackend(ctx, config.Storage)
	if err != nil {
		return nil, err
	}
	manifest, err := NewFileManifestStore(config.Orchestrator.ManifestPath, config.Orchestrator.RunLogPath)
	if err != nil {
		return nil, err
	}
	locker, err := NewLocker(config.Lock)
	if err != nil {
		return nil, err
	}
	return NewOrchestrator(config, backend, manifest, locker, logger), nil
}

// Manifest exposes the manifest store for read-only commands
func (o *Orchestrator) Manifest() ManifestStore {
	return o.manifest
}

// Backend exposes the storage backend for read-only commands
func (o *Orchestrator) Backend() Backend {
	return o.backend
}

// RunOnce executes one full backup run for the source. Lock contention is
// not a failure: the run is recorded as skipped and the contention error is
// returned for the caller to log.
func (o *Orchestrator) RunOnce(ctx context.Context, source Source) (*RunReport, error) {
	runID := GenerateRunID()
	startedAt := time.Now().UTC()
	sourceID := source.ID()

	o.logger.LogRunStart(runID, sourceID)

	lease, err := o.locker.Acquire(ctx, sourceID, o.owner, o.config.Lock.TTL)
	if err != nil {
		if IsLockContention(err) {
			report := o.finishRun(runID, sourceID, startedAt, RunOutcomeSkipped, "", 0, 0, 0, err)
			return report, err
		}
		report := o.finishRun(runID, sourceID, startedAt, RunOutcomeFailed, "", 0, 0, 0, err)
		return report, err
	}

	heartbeatDone := make(chan struct{})
	go o.heartbeat(sourceID, lease.Owner, heartbeatDone)
	defer func() {
		close(heartbeatDone)
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if releaseErr := o.locker.Release(releaseCtx, sourceID, o.owner); releaseErr != nil {
			o.logger.Warnf("Failed to release run lock for %s: %v", sourceID, releaseErr)
		}
	}()

	// pick up manifest entries other processes wrote before we held the lease
	if err := o.manifest.Reload(); err != nil {
		report := o.finishRun(runID, sourceID, startedAt, RunOutcomeFailed, "", 0, 0, 0, err)
		return report, err
	}

	reconciled, err := o.Reconcile(ctx, sourceID)
	if err != nil {
		report := o.finishRun(runID, sourceID, startedAt, RunOutcomeFailed, "", 0, 0, reconciled, err)
		return report, err
	}

	artifact, bytesWritten, err := o.buildAndStore(ctx, source)
	if err != nil {
		artifactID := ""
		if artifact != nil {
			artifactID = artifact.ID
			o.markFailed(artifact.ID)
		}
		report := o.finishRun(runID, sourceID, startedAt, RunOutcomeFailed, artifactID, bytesWritten, 0, reconciled, err)
		return report, err
	}

	if err := o.verify(ctx, artifact); err != nil {
		o.markFailed(artifact.ID)
		report := o.finishRun(runID, sourceID, startedAt, RunOutcomeFailed, artifact.ID, bytesWritten, 0, reconciled, err)
		return report, err
	}

	expired, retentionErr := o.applyRetention(ctx, sourceID)
	outcome := RunOutcomeSuccess
	if retentionErr != nil {
		// the backup itself is safe; deletion failures degrade to partial
		outcome = RunOutcomePartial
	}

	report := o.finishRun(runID, sourceID, startedAt, outcome, artifact.ID, bytesWritten, expired, reconciled, retentionErr)
	return report, retentionErr
}

// transformConfigs resolves the compression and encryption settings for a
// source, preferring per-source overrides over the global sections. Sources
// not present in the configuration (injected directly in tests) get the
// global settings.
func (o *Orchestrator) transformConfigs(sourceID string) (CompressionConfig, EncryptionConfig) {
	compression := o.config.Compression
	encryption := o.config.Encryption
	if src, err := o.config.FindSource(sourceID); err == nil {
		if src.Compression != nil {
			compression = *src.Compression
		}
		if src.Encryption != nil {
			encryption = *src.Encryption
		}
	}
	return compression, encryption
}

// buildAndStore creates the pending manifest entry, streams the artifact into
// the backend and advances the entry to stored. The build writes into a pipe
// consumed by the backend put, so the upload exerts backpressure on the
// source read.
func (o *Orchestrator) buildAndStore(ctx context.Context, source Source) (*Artifact, int64, error) {
	sourceID := source.ID()
	createdAt := time.Now().UTC()

	compression, encryption := o.transformConfigs(sourceID)
	builder, err := NewBuilder(compression, encryption)
	if err != nil {
		return nil, 0, err
	}
	builder.WithProgress(o.config.Orchestrator.ProgressInterval, func(bytesRead, bytesWritten int64) {
		o.logger.Debugf("Building %s: %d bytes read, %d bytes written", sourceID, bytesRead, bytesWritten)
	})

	artifact := &Artifact{
		ID:          GenerateArtifactID(sourceID, createdAt),
		SourceID:    sourceID,
		CreatedAt:   createdAt,
		Compression: builder.Compressor().Type(),
		Encrypted:   builder.Encrypted(),
		State:       StatePending,
	}
	if artifact.Encrypted {
		artifact.KeyRef = encryption.KeyRef
	}
	artifact.StorageKey = o.storageKey(artifact, builder)

	if err := o.manifest.Append(artifact); err != nil {
		return nil, 0, err
	}

	if o.config.Orchestrator.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Orchestrator.UploadTimeout)
		defer cancel()
	}

	stream, err := source.Open(ctx)
	if err != nil {
		return artifact, 0, err
	}
	defer stream.Close()

	pr, pw := io.Pipe()
	buildErrCh := make(chan error, 1)
	resultCh := make(chan *BuildResult, 1)

	storeStart := time.Now()
	go func() {
		result, buildErr := builder.Build(ctx, stream, pw)
		pw.CloseWithError(buildErr)
		resultCh <- result
		buildErrCh <- buildErr
	}()

	size, putErr := o.backend.Put(ctx, artifact.StorageKey, pr)
	pr.CloseWithError(putErr)
	buildErr := <-buildErrCh
	result := <-resultCh

	if buildErr != nil {
		return artifact, 0, buildErr
	}
	if putErr != nil {
		return artifact, 0, putErr
	}
	if size != result.BytesWritten {
		return artifact, size, NewStorageWriteError(
			fmt.Sprintf("backend stored %d bytes, build produced %d", size, result.BytesWritten), nil)
	}

	if err := o.manifest.RecordBuildResult(artifact.ID, result.BytesWritten, result.Digest); err != nil {
		return artifact, result.BytesWritten, err
	}
	if err := o.manifest.UpdateState(artifact.ID, StateStored); err != nil {
		return artifact, result.BytesWritten, err
	}
	artifact.Size = result.BytesWritten
	artifact.Digest = result.Digest
	artifact.State = StateStored

	o.logger.LogArtifactStored(artifact.ID, artifact.StorageKey, result.BytesWritten, time.Since(storeStart))
	return artifact, result.BytesWritten, nil
}

// verify reads the stored artifact back and checks its digest before
// advancing to verified
func (o *Orchestrator) verify(ctx context.Context, artifact *Artifact) error {
	if o.config.Orchestrator.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Orchestrator.VerifyTimeout)
		defer cancel()
	}

	reader, err := o.backend.Get(ctx, artifact.StorageKey)
	if err != nil {
		return err
	}
	defer reader.Close()

	match, err := VerifyDigest(ctx, reader, artifact.Digest)
	if err != nil {
		return err
	}
	if !match {
		return NewStorageReadError(
			fmt.Sprintf("digest mismatch for artifact %s after store", artifact.ID), nil).
			WithContext("artifact_id", artifact.ID)
	}

	if err := o.manifest.UpdateState(artifact.ID, StateVerified); err != nil {
		return err
	}
	artifact.State = StateVerified
	o.logger.LogStateTransition(artifact.ID, string(StateStored), string(StateVerified))
	return nil
}

// VerifyArtifact re-checks a stored or verified artifact against its digest.
// A clean check promotes a stored artifact to verified; a mismatch marks the
// artifact failed so nothing restores from or retains the bad copy. The
// source's run lease is held while the manifest is touched.
func (o *Orchestrator) VerifyArtifact(ctx context.Context, artifactID string) (bool, error) {
	artifact, err := o.manifest.Get(artifactID)
	if err != nil {
		return false, err
	}

	var match bool
	err = o.withSourceLease(ctx, artifact.SourceID, func() error {
		artifact, err = o.manifest.Get(artifactID)
		if err != nil {
			return err
		}
		if artifact.State != StateStored && artifact.State != StateVerified {
			return NewValidationError(
				fmt.Sprintf("artifact %s is %s, only stored or verified artifacts can be checked", artifactID, artifact.State), nil)
		}
		if artifact.Digest == "" {
			return NewValidationError(fmt.Sprintf("artifact %s has no recorded digest", artifactID), nil)
		}

		reader, err := o.backend.Get(ctx, artifact.StorageKey)
		if err != nil {
			return err
		}
		defer reader.Close()

		match, err = VerifyDigest(ctx, reader, artifact.Digest)
		if err != nil {
			return err
		}
		if !match {
			o.markFailed(artifact.ID)
			o.logger.LogStateTransition(artifact.ID, string(artifact.State), string(StateFailed))
			return nil
		}
		if artifact.State == StateStored {
			return o.manifest.UpdateState(artifact.ID, StateVerified)
		}
		return nil
	})
	return match, err
}

// Restore streams an artifact back out of storage, reversing compression and
// encryption, and writes the original source bytes to w
func (o *Orchestrator) Restore(ctx context.Context, artifactID string, w io.Writer) (int64, error) {
	artifact, err := o.manifest.Get(artifactID)
	if err != nil {
		return 0, err
	}
	if artifact.State != StateStored && artifact.State != StateVerified {
		return 0, NewValidationError(
			fmt.Sprintf("artifact %s is %s and cannot be restored", artifactID, artifact.State), nil)
	}

	_, encryption := o.transformConfigs(artifact.SourceID)
	encryption.Enabled = artifact.Encrypted
	compression := CompressionConfig{
		Enabled:   artifact.Compression != "" && artifact.Compression != CompressionTypeNone,
		Algorithm: artifact.Compression,
	}
	compression.SetDefaults()

	builder, err := NewBuilder(compression, encryption)
	if err != nil {
		return 0, err
	}

	reader, err := o.backend.Get(ctx, artifact.StorageKey)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	decoded, err := builder.Decode(reader)
	if err != nil {
		return 0, err
	}
	defer decoded.Close()

	return copyWithContext(ctx, w, decoded)
}

// Reconcile repairs manifest entries left pending or stored past the
// staleness threshold, checking them against what the backend actually
// holds. Present objects with matching digests advance to verified; absent
// ones are marked failed. Returns the number of entries repaired.
func (o *Orchestrator) Reconcile(ctx context.Context, sourceID string) (int, error) {
	entries, err := o.manifest.ListBySource(sourceID)
	if err != nil {
		return 0, err
	}

	staleAfter := o.config.Orchestrator.StaleAfter
	now := time.Now().UTC()

	checked, repaired, orphaned := 0, 0, 0
	for _, entry := range entries {
		if entry.State != StatePending && entry.State != StateStored {
			continue
		}
		if staleAfter > 0 && now.Sub(entry.UpdatedAt) < staleAfter {
			continue
		}
		checked++

		exists, err := o.backend.Exists(ctx, entry.StorageKey)
		if err != nil {
			return repaired, NewReconciliationError(
				fmt.Sprintf("failed to check storage for artifact %s", entry.ID), err)
		}

		if !exists {
			if err := o.manifest.UpdateState(entry.ID, StateFailed); err != nil {
				return repaired, err
			}
			o.logger.LogStateTransition(entry.ID, string(entry.State), string(StateFailed))
			orphaned++
			repaired++
			continue
		}

		if entry.Digest == "" {
			// present but we never recorded what we wrote; unresolvable
			// automatically, flag for the operator
			return repaired, NewReconciliationError(
				fmt.Sprintf("artifact %s present in storage but has no recorded digest", entry.ID), nil).
				WithContext("artifact_id", entry.ID)
		}

		reader, err := o.backend.Get(ctx, entry.StorageKey)
		if err != nil {
			return repaired, NewReconciliationError(
				fmt.Sprintf("failed to read artifact %s for reconciliation", entry.ID), err)
		}
		match, err := VerifyDigest(ctx, reader, entry.Digest)
		reader.Close()
		if err != nil {
			return repaired, err
		}

		if !match {
			if err := o.manifest.UpdateState(entry.ID, StateFailed); err != nil {
				return repaired, err
			}
			o.logger.LogStateTransition(entry.ID, string(entry.State), string(StateFailed))
			orphaned++
			repaired++
			continue
		}

		if entry.State == StatePending {
			if err := o.manifest.UpdateState(entry.ID, StateStored); err != nil {
				return repaired, err
			}
		}
		if err := o.manifest.UpdateState(entry.ID, StateVerified); err != nil {
			return repaired, err
		}
		o.logger.LogStateTransition(entry.ID, string(entry.State), string(StateVerified))
		repaired++
	}

	o.logger.LogReconciliation(sourceID, checked, repaired, orphaned)
	return repaired, nil
}

// PlanRetentionForSource computes the retention plan without applying it
func (o *Orchestrator) PlanRetentionForSource(sourceID string, now time.Time) (*RetentionPlan, error) {
	entries, err := o.manifest.ListBySource(sourceID)
	if err != nil {
		return nil, err
	}
	return PlanRetention(entries, o.config.Retention, now)
}

// ApplyRetention plans and applies retention for the source. With dryRun set
// the plan is computed but nothing is deleted. Applying takes the source's
// run lease first, so a concurrent backup run and a retention sweep never
// rewrite the manifest over each other.
func (o *Orchestrator) ApplyRetention(ctx context.Context, sourceID string, dryRun bool) (*RetentionPlan, int, error) {
	if dryRun {
		plan, err := o.PlanRetentionForSource(sourceID, time.Now().UTC())
		return plan, 0, err
	}

	var plan *RetentionPlan
	var expired int
	err := o.withSourceLease(ctx, sourceID, func() error {
		var applyErr error
		plan, expired, applyErr = o.planAndExpire(ctx, sourceID)
		return applyErr
	})
	return plan, expired, err
}

// planAndExpire runs one retention pass. The caller holds the run lease.
func (o *Orchestrator) planAndExpire(ctx context.Context, sourceID string) (*RetentionPlan, int, error) {
	plan, err := o.PlanRetentionForSource(sourceID, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	expired, err := o.expire(ctx, plan)
	return plan, expired, err
}

// applyRetention is the in-run retention pass; RunOnce already holds the lease
func (o *Orchestrator) applyRetention(ctx context.Context, sourceID string) (int, error) {
	start := time.Now()
	plan, expired, err := o.planAndExpire(ctx, sourceID)
	if plan != nil {
		o.logger.LogRetentionApplied(sourceID, len(plan.Keep), expired, time.Since(start))
	}
	return expired, err
}

// withSourceLease acquires the source's run lease, refreshes the manifest
// and runs fn, releasing the lease on return. Maintenance entry points use
// it so their manifest writes serialize with backup runs.
func (o *Orchestrator) withSourceLease(ctx context.Context, sourceID string, fn func() error) error {
	if _, err := o.locker.Acquire(ctx, sourceID, o.owner, o.config.Lock.TTL); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if releaseErr := o.locker.Release(releaseCtx, sourceID, o.owner); releaseErr != nil {
			o.logger.Warnf("Failed to release run lock for %s: %v", sourceID, releaseErr)
		}
	}()

	if err := o.manifest.Reload(); err != nil {
		return err
	}
	return fn()
}

// expire walks the plan's expire set through expiring -> delete -> deleted
func (o *Orchestrator) expire(ctx context.Context, plan *RetentionPlan) (int, error) {
	expired := 0
	var firstErr error

	for _, id := range plan.Expire {
		entry, err := o.manifest.Get(id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := o.manifest.UpdateState(id, StateExpiring); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := o.backend.Delete(ctx, entry.StorageKey); err != nil && !IsErrorType(err, ErrorTypeNotFound) {
			// leave the entry expiring; the next run retries the delete
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := o.manifest.UpdateState(id, StateDeleted); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		o.logger.LogStateTransition(id, string(StateExpiring), string(StateDeleted))
		expired++
	}
	return expired, firstErr
}

// heartbeat renews the run lock while a run is in flight
func (o *Orchestrator) heartbeat(resource, owner string, done <-chan struct{}) {
	ttl := o.config.Lock.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			if _, err := o.locker.Renew(ctx, resource, owner, ttl); err != nil {
				o.logger.Warnf("Failed to renew run lock for %s: %v", resource, err)
			}
			cancel()
		}
	}
}

// markFailed moves a manifest entry to failed, tolerating conflicts from
// entries that already reached a terminal state
func (o *Orchestrator) markFailed(artifactID string) {
	if err := o.manifest.UpdateState(artifactID, StateFailed); err != nil && !IsErrorType(err, ErrorTypeManifest) {
		o.logger.Warnf("Failed to mark artifact %s as failed: %v", artifactID, err)
	}
}

// finishRun appends the run record and builds the report. Every run produces
// exactly one record, success or failure.
func (o *Orchestrator) finishRun(runID, sourceID string, startedAt time.Time, outcome RunOutcome, artifactID string, bytesWritten int64, expired, reconciled int, runErr error) *RunReport {
	finishedAt := time.Now().UTC()

	record := &RunRecord{
		RunID:           runID,
		SourceID:        sourceID,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		Outcome:         outcome,
		ArtifactID:      artifactID,
		BytesWritten:    bytesWritten,
		ExpiredCount:    expired,
		ReconciledCount: reconciled,
	}
	if runErr != nil {
		record.ErrorDetail = runErr.Error()
	}
	if err := o.manifest.AppendRun(record); err != nil {
		o.logger.Errorf("Failed to append run record %s: %v", runID, err)
	}

	o.logger.LogRunComplete(runID, sourceID, string(outcome), record.Duration(), runErr)

	return &RunReport{
		RunID:           runID,
		SourceID:        sourceID,
		Outcome:         outcome,
		ArtifactID:      artifactID,
		BytesWritten:    bytesWritten,
		Duration:        record.Duration(),
		ExpiredCount:    expired,
		ReconciledCount: reconciled,
		ErrorDetail:     record.ErrorDetail,
	}
}

// storageKey derives the backend key for an artifact
func (o *Orchestrator) storageKey(artifact *Artifact, builder *Builder) string {
	ext := ".dump" + builder.Compressor().Extension()
	if artifact.Encrypted {
		ext += ".enc"
	}
	return o.config.Storage.Prefix + artifact.SourceID + "/" + artifact.ID + ext
}

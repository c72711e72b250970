// Package backup implements the backup orchestration core: building,
// storing, tracking and expiring backup artifacts.
//
// A run streams a source dump through compression and optional encryption
// into a single addressable artifact, computing its content digest as the
// bytes flow. Artifacts land in a storage backend (local disk, S3, Azure or
// GCS) and are tracked in a durable manifest whose lifecycle states advance
// monotonically: pending, stored, verified, expiring, deleted. Retention is
// a pure function of the manifest and the policy, recomputed fresh each run.
//
// Core components:
//
// - Builder: the streaming dump -> compress -> encrypt -> digest pipeline
// - Backend: storage abstraction with atomic puts and listable objects
// - ManifestStore: the ledger of artifacts, the single source of truth
// - PlanRetention: grandfather-father-son expiry over the manifest
// - Orchestrator: drives one run end to end under a per-source lease lock
//
// Example usage:
//
//	orch, err := backup.NewOrchestratorFromConfig(ctx, config, logger)
//	if err != nil {
//		return err
//	}
//
//	source, err := backup.NewSource(config.Sources[0])
//	if err != nil {
//		return err
//	}
//
//	report, err := orch.RunOnce(ctx, source)
//	if backup.IsLockContention(err) {
//		// another run already holds the lock; not a failure
//		return nil
//	}
//	if err != nil {
//		return err
//	}
//	fmt.Printf("stored %s (%d bytes)\n", report.ArtifactID, report.BytesWritten)
package backup

package backup

// ManifestStore is the durable ledger of every artifact produced. It is the
// single source of truth for what exists; storage listings are reconciled
// against it, never trusted on their own.
type ManifestStore interface {
	// Append records a new artifact entry. The artifact ID must be unique.
	Append(artifact *Artifact) error

	// UpdateState advances an entry's lifecycle state. Transitions that
	// violate the monotonic ordering fail with a manifest conflict error.
	UpdateState(id string, newState ArtifactState) error

	// RecordBuildResult fills in the size and digest of a pending entry once
	// its build completes. Entries past pending are immutable and reject it.
	RecordBuildResult(id string, size int64, digest string) error

	// Reload refreshes the store's view from its backing medium, picking up
	// entries written by other processes
	Reload() error

	// Get returns the entry with the given ID
	Get(id string) (*Artifact, error)

	// ListAll returns every entry, sorted by creation time then ID
	ListAll() ([]*Artifact, error)

	// ListBySource returns entries for one source, sorted by creation time
	// then ID
	ListBySource(sourceID string) ([]*Artifact, error)

	// AppendRun records one completed orchestration run
	AppendRun(record *RunRecord) error

	// ListRuns returns run records for a source, newest first. A limit of 0
	// returns all. An empty sourceID matches all sources.
	ListRuns(sourceID string, limit int) ([]*RunRecord, error)
}

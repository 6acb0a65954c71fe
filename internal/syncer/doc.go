// Package syncer pushes locally captured contacts to the remote record service.
//
// Overview
//
// The Coordinator reads the unsynced entries from the local store, pushes
// each record to the remote service with create-or-update semantics, and
// marks an entry synced only after the remote acknowledged it:
//
//	localstore (synced=0) ──GetUnsynced──▶ Coordinator ──Upsert──▶ remote
//	        ▲                                  │
//	        └────────────MarkSynced────────────┘ (per acknowledged entry)
//
// Single-flight
//
// At most one pass runs per Coordinator. A Sync call that arrives while a pass
// is in flight returns immediately with StatusAlreadyRunning and never reads
// the store, so a reconnect event and a manual request firing together
// push each entry once.
//
// Failure handling
//
// Failures are per entry:
//
//   - A failed push leaves that entry unsynced; the pass continues with the
//     next entry.
//   - Each push is bounded by Options.PushTimeout.
//   - If any entry failed, Sync returns a *SyncError (errors.Is ErrPushFailed)
//     alongside a Result listing what was pushed.
//   - The checkpoint advances whenever at least one entry was pushed.
//   - An entry saved again while its push was in flight is not marked synced;
//     it is listed in Result.Superseded and goes out with the next pass.
//
// Usage
//
//	store, err := localstore.OpenSync(ctx, "data/contacts.db", localstore.Options{})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	coord := syncer.New(store, remote.NewMemoryService(), checkpoint.NewFileStore("data/last_sync.json"), syncer.Options{})
//	result, err := coord.Sync(ctx)
package syncer

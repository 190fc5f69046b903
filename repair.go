package vault

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/axiomvault/vault/store"
)

// The repair pass runs only on explicit caller request. It is the one
// place the engine uses ObjectStore.List: everything else derives state
// from the reachable record graph. Repair never invents data; it deletes
// unreachable garbage, finishes interrupted renames from their journal
// intents, and reports what it cannot decide.

// RepairReport summarizes one repair pass.
type RepairReport struct {
	// OrphansDeleted counts files/ objects referenced by no directory
	// record.
	OrphansDeleted int `cbor:"1,keyasint"`
	// StagingDeleted counts abandoned *.stage.* objects removed.
	StagingDeleted int `cbor:"2,keyasint"`
	// RenamesResolved counts journal intents whose double-link was
	// canonicalized by trusting the destination.
	RenamesResolved int `cbor:"3,keyasint"`
	// DuplicateRefs lists storage keys referenced by more than one
	// directory record with no surviving journal intent. These are
	// reported, not resolved: repair does not guess.
	DuplicateRefs []string `cbor:"4,keyasint,omitempty"`
	// DanglingEntries counts record entries whose target object is
	// missing.
	DanglingEntries int `cbor:"5,keyasint"`
}

// repairWorkers bounds the orphan-verification fan-out.
func repairWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	return n
}

// Repair walks the reachable graph from the root, then reconciles it
// against the backend's key space.
func (v *Vault) Repair(ctx context.Context) (*RepairReport, error) {
	s, err := v.active("repair")
	if err != nil {
		return nil, err
	}
	return s.repair(ctx)
}

func (s *Session) repair(ctx context.Context) (*RepairReport, error) {
	report := &RepairReport{}

	// Finish interrupted renames first so the reachability walk sees
	// canonical records.
	if err := s.resolveIntents(ctx, report); err != nil {
		return nil, err
	}

	reachable, refCounts, err := s.walkReachable(ctx, report)
	if err != nil {
		return nil, err
	}

	for key, n := range refCounts {
		if n > 1 {
			report.DuplicateRefs = append(report.DuplicateRefs, key)
		}
	}

	keys, err := s.store.List(ctx, fileKeyPrefix)
	if err != nil {
		return nil, wrapStore("repair", "", err)
	}

	// Fan the orphan sweep out over a bounded worker pool; deletion of
	// unreferenced objects is independent per key.
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		jobs    = make(chan string)
		workers = repairWorkers()
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				if strings.Contains(key, ".stage.") {
					if err := s.store.Delete(ctx, key, nil); err == nil {
						mu.Lock()
						report.StagingDeleted++
						mu.Unlock()
					}
					continue
				}
				if reachable[key] {
					continue
				}
				if err := s.store.Delete(ctx, key, nil); err == nil {
					mu.Lock()
					report.OrphansDeleted++
					mu.Unlock()
				}
			}
		}()
	}
	for _, key := range keys {
		select {
		case jobs <- key:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, wrapErr(CodeCancelled, "repair", "", ctx.Err())
		}
	}
	close(jobs)
	wg.Wait()

	s.log.WithFields(map[string]interface{}{
		"orphans": report.OrphansDeleted,
		"staging": report.StagingDeleted,
		"renames": report.RenamesResolved,
	}).Info("repair pass complete")
	return report, nil
}

// walkReachable visits every directory record reachable from the root and
// returns the set of referenced content keys plus per-key reference
// counts.
func (s *Session) walkReachable(ctx context.Context, report *RepairReport) (map[string]bool, map[string]int, error) {
	rootID, err := s.kr.rootDirID()
	if err != nil {
		return nil, nil, wrapErr(CodeCorrupt, "repair", "", err)
	}

	reachable := make(map[string]bool)
	refCounts := make(map[string]int)
	visited := make(map[ID]bool)
	queue := []ID{rootID}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, wrapErr(CodeCancelled, "repair", "", err)
		}
		dirID := queue[0]
		queue = queue[1:]
		if visited[dirID] {
			continue
		}
		visited[dirID] = true

		entries, _, err := loadDir(ctx, s.store, s.kr, dirID)
		if err != nil {
			if IsCorrupt(err) {
				// Dangling directory reference; count and continue so one
				// broken subtree does not abort the whole pass.
				report.DanglingEntries++
				continue
			}
			return nil, nil, err
		}
		for _, e := range entries {
			switch e.Kind {
			case EntryFile:
				key := fileKey(e.Ref)
				reachable[key] = true
				refCounts[key]++
				if _, err := s.store.Head(ctx, key); store.IsNotFound(err) {
					report.DanglingEntries++
				}
			case EntryDir:
				refCounts[dirKey(e.Ref)]++
				queue = append(queue, e.Ref)
			}
		}
	}
	return reachable, refCounts, nil
}

// resolveIntents replays surviving rename journal entries: where both the
// source and destination records still hold the moved ref, the source
// entry is removed (the destination is trusted). Spent intents are
// deleted either way.
func (s *Session) resolveIntents(ctx context.Context, report *RepairReport) error {
	keys, err := s.store.List(ctx, journalKeyPrefix)
	if err != nil {
		return wrapStore("repair", "", err)
	}
	for _, key := range keys {
		body, _, err := store.GetBytes(ctx, s.store, key)
		if err != nil {
			continue
		}
		intent, err := openRenameIntent(s.kr, body)
		if err != nil {
			// Unreadable intents are dropped: they authenticate under the
			// current k_dir or not at all.
			s.store.Delete(ctx, key, nil)
			continue
		}

		dstHolds := false
		if entries, _, err := loadDir(ctx, s.store, s.kr, intent.dstDir); err == nil {
			if e, idx := findEntry(entries, intent.dstName); idx >= 0 && e.Ref == intent.ref {
				dstHolds = true
			}
		}
		if dstHolds {
			err := mutateDir(ctx, s.store, s.kr, intent.srcDir, func(entries []DirEntry) ([]DirEntry, error) {
				e, i := findEntry(entries, intent.srcName)
				if i < 0 || e.Ref != intent.ref {
					return entries, nil
				}
				return append(entries[:i], entries[i+1:]...), nil
			})
			if err == nil {
				report.RenamesResolved++
			}
		}
		s.store.Delete(ctx, key, nil)
	}
	return nil
}

// SweepStaging deletes every staging object. Staging keys are transient
// by contract: any instance older than one hour is garbage. The caller
// asserts no writer is active; the session refuses while it holds writer
// locks.
func (v *Vault) SweepStaging(ctx context.Context) (int, error) {
	s, err := v.active("gc")
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	for _, h := range s.handles {
		if h.mode == OpenWrite {
			s.mu.Unlock()
			return 0, errf(CodeConflict, "gc", "")
		}
	}
	s.mu.Unlock()
	keys, err := s.store.List(ctx, fileKeyPrefix)
	if err != nil {
		return 0, wrapStore("gc", "", err)
	}
	deleted := 0
	for _, key := range keys {
		if !strings.Contains(key, ".stage.") {
			continue
		}
		if err := s.store.Delete(ctx, key, nil); err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// Package approval stores file writes held for a human decision.
//
// When the file guard classifies an agent's write as requiring approval,
// the write is recorded here as a pending [Request] instead of touching the
// workspace. The session engine pauses as soon as any request is pending.
// Approving a request applies the held content; denying it discards it.
//
// # Usage
//
//	store := approval.NewStore(iterationDir)
//	req, err := store.Add(approval.Request{Agent: "alice", Path: "go.mod", Content: body})
//
//	n, err := store.PendingCount()
//
//	req, err = store.Resolve(req.ID, true, "looks fine")
//
// # Thread Safety
//
// [Store] serializes access within a process with a mutex and across
// processes with an flock on approvals.lock.
package approval

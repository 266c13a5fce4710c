// Package iteration owns the persisted state of iterations: the current
// phase and layer, status, turn counters, tasks and sandbox bindings.
//
// Each iteration lives in its own directory under the state root:
//
//	{root}/iterations/{id}/state.json
//
// The directory also holds the conversation log and other artifacts; the
// checkpoint manager snapshots all of it. State is read fully at session
// start and written at well-defined points (phase advance, turn-count
// updates, checkpoints). A Locker keeps a second session from running on the
// same iteration concurrently.
package iteration

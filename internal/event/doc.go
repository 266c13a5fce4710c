// Package event provides a pub-sub event bus for notifications about an
// iteration's progress.
//
// The orchestrator publishes an event after each change it has persisted:
// a message appended, a turn counted, a phase advanced, a sandbox merged or
// conflicted, a checkpoint written. Renderers and the metrics recorder
// subscribe without the orchestrator knowing about them.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher, safe for concurrent use
//   - [Handler]: Function type for event handlers (func(Event))
//
// # Event Categories
//
// Conversation: [MessageAppendedEvent], [TurnCompletedEvent], [SessionStoppedEvent].
//
// Lifecycle: [PhaseAdvancedEvent], [TasksRecordedEvent].
//
// Sandboxes: [SandboxCreatedEvent], [SandboxMergedEvent], [MergeConflictEvent],
// [OverlapDetectedEvent].
//
// Files and approvals: [FileWrittenEvent], [FileDeniedEvent],
// [ApprovalRequestedEvent], [ApprovalResolvedEvent].
//
// Checkpoints: [CheckpointCreatedEvent], [CheckpointRestoredEvent].
//
// # Usage
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeMergeConflict, func(e event.Event) {
//		c := e.(event.MergeConflictEvent)
//		fmt.Println("conflict in", c.Files)
//	})
//	bus.Publish(event.NewMergeConflictEvent(id, "bob", branch, files, agents))
//
// Handlers run synchronously on the publishing goroutine. A panicking handler
// is recovered and logged so it cannot stop delivery to the others.
package event

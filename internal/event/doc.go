/*
Package event provides a type-safe, in-process pub/sub event system for the
pincer orchestration core.

The bus decouples the permission workflow, the background task tracker, the
sandbox pool, and the control API: publishers emit events and subscribers
react to them without direct dependencies. Delivery is best-effort and
in-process only.

# Architecture

The package is built on top of watermill's gochannel for infrastructure while
maintaining direct-call semantics to preserve type information. It provides
both synchronous and asynchronous event publishing patterns.

# Event Types

Permission Events:
  - permission.updated: Permission request entered a session's pending queue
  - permission.replied: Permission request resolved (explicit, cascaded, teardown, or withdrawn)

Background Task Events:
  - background_task.started: Sub-agent task registered
  - background_task.updated: Task status or description changed
  - background_task.completed: Task reached a terminal state
  - background_task.approval_required: Task is blocked on a permission request

Sandbox Events:
  - sandbox.started: Tool container launched
  - sandbox.stopped: Tool container stopped (requested, idle, or shutdown)

# Basic Usage

Publishing events:

	// Asynchronous publishing (non-blocking)
	bus.Publish(event.Event{
		Type: event.PermissionUpdated,
		Data: event.PermissionUpdatedData{
			ID:        req.ID,
			SessionID: effective,
			Title:     req.Title,
		},
	})

	// Synchronous publishing (blocking until all subscribers complete)
	bus.PublishSync(event.Event{
		Type: event.TaskCompleted,
		Data: event.TaskCompletedData{RootID: rootID, TaskID: taskID},
	})

Subscribing to specific events:

	unsubscribe := bus.Subscribe(event.PermissionUpdated, func(e event.Event) {
		data := e.Data.(event.PermissionUpdatedData)
		log.Info().Str("id", data.ID).Msg("permission requested")
	})
	defer unsubscribe()

Subscribing to all events:

	unsubscribe := bus.SubscribeAll(func(e event.Event) {
		log.Debug().Str("type", string(e.Type)).Msg("event received")
	})
	defer unsubscribe()

# Subscriber Safety Guidelines

When using PublishSync, subscribers are called synchronously in the
publisher's goroutine. To avoid blocking or deadlocks, subscribers MUST:

  - Complete quickly (avoid long-running operations)
  - Use non-blocking channel sends (select with default case)
  - Never call Publish/PublishSync from within a subscriber (no re-entrant publishing)
  - Never acquire locks that the publisher might hold

Example of a safe subscriber (the SSE handler uses this shape):

	bus.SubscribeAll(func(e event.Event) {
	    select {
	    case eventChan <- e:
	        // Event sent successfully
	    default:
	        // Channel full, drop event to avoid blocking
	        log.Warn().Str("type", string(e.Type)).Msg("event dropped: channel full")
	    }
	})

# Global Bus vs Instances

Orchestrator state objects own a bus created with NewBus so engagements and
tests stay isolated:

	bus := event.NewBus()
	defer bus.Close()

The package-level Publish/Subscribe functions operate on a process-wide
default bus (event.Global()) for code that has no state object at hand.

# Testing

The package provides utilities for testing:

	// Reset global bus state (use in test cleanup)
	event.Reset()

# Thread Safety

The event bus is thread-safe and can be used concurrently from multiple
goroutines. Both publishing and subscribing operations are protected by
internal synchronization.

# Performance Considerations

  - Asynchronous publishing (Publish) creates a goroutine per subscriber per event
  - Synchronous publishing (PublishSync) calls all subscribers in the current goroutine
  - Use PublishSync for critical events where ordering matters
  - Use Publish for fire-and-forget notifications

# Integration with Watermill

The package uses watermill's gochannel internally, providing access to the
underlying pubsub infrastructure for advanced use cases:

	pubsub := event.PubSub()
	// Use watermill features like middleware, routing, etc.

This allows future migration to distributed message brokers if needed while
maintaining the current API.
*/
package event

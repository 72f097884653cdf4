/*
Package ports defines the driven ports (interfaces) of the pitcrew core.

These interfaces decouple the bus and engine from external implementations,
allowing terminal workflows and the audit stream to land in various backends.

# Key Interfaces

  - WorkflowArchive: Receives workflows once they reach a terminal state.
  - AuditSink: Receives batches of bus audit entries for external analytics.
*/
package ports

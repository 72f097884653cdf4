/*
Package domain contains the core models shared by the pitcrew bus, timeout
tracker and workflow engine.

It is kept free of I/O and persistence concerns, following Hexagonal
Architecture principles. Adapters live under pkg/adapters and talk to the core
through the interfaces in pkg/ports.

# Key Entities

  - Message: An immutable envelope published on a named bus channel.
  - Priority: The four delivery bands (low, normal, high, critical).
  - Workflow: The per-vehicle unit of work driven through the stage pipeline.
  - State: One of the finite workflow states, guarded by the Transitions table.
  - Task: An ephemeral unit of dispatch for a single agent kind.
  - AuditEntry: A record of a bus action, consumed by monitoring collaborators.
*/
package domain

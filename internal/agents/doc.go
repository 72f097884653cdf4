// Package agents provides deterministic rule-based handlers for every stage,
// so pitcrew can run end to end without external agents.
package agents

/*
Package keylock provides per-key mutual exclusion with reference-counted
cleanup.

The workflow engine uses it so that only one stage transition per workflow is
in flight at a time, while different workflows progress in parallel. Lock
entries are created on demand and garbage collected as soon as no goroutine
holds or waits for them.
*/
package keylock

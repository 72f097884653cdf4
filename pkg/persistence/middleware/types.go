// Package middleware wraps a ports.WorkflowArchive with behavior applied to
// workflows on their way in and out of storage.
package middleware

import "github.com/aretw0/pitcrew/pkg/ports"

// Middleware allows wrapping a WorkflowArchive to add behavior.
type Middleware func(ports.WorkflowArchive) ports.WorkflowArchive

// Chain applies mws to archive. The first middleware is the outermost, so
// Chain(a, mask, encrypt) masks before it encrypts.
func Chain(archive ports.WorkflowArchive, mws ...Middleware) ports.WorkflowArchive {
	for i := len(mws) - 1; i >= 0; i-- {
		archive = mws[i](archive)
	}
	return archive
}

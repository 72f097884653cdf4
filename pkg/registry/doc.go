// Package registry maps agent kinds to the handlers that perform their stage work.
package registry

// Package errext contains extensions for normal Go errors that are used in autowait.
package errext

// Exception represents errors that resulted from a script exception and contain
// a stack trace that lead to them.
type Exception interface {
	error
	StackTrace() string
}

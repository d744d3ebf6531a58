// Package conversation provides the context manager that attaches prior
// conversation state to a request before dispatch, and the stores it reads
// that state from (memory, SQL, MongoDB).
package conversation

// Package audit records what the agent did: every command it received,
// with its outcome, and every collector connection state change.
//
// The trail lives in the optional local SQLite database and is served by
// the status API.
package audit

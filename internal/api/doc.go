// Package api serves the agent's local status API.
//
// The API is read-only and intended for the operator on the local network:
//
//	GET /api/v1/health        200 when connected to the collector, 503 otherwise
//	GET /api/v1/status        agent, connection state, counters, devices
//	GET /api/v1/commands      command audit log (?limit=&device=)
//	GET /api/v1/connections   connection audit log (?limit=)
//
// The audit endpoints answer 503 when the local database is disabled.
package api

// Package device provides the capability adapters the relay polls and commands.
//
// Every configured device is resolved, by its tagged type, to an Adapter:
//
//	P100, P105  smart plug (state, link quality, countdown, schedules)
//	P110, P115  energy-monitoring plug (plug channels plus power and energy)
//	S88         serial CO2 sensor (co2)
//	SIM         simulated plug for bench testing
//
// Adapters report Readings. A metric that fails to load is omitted; a device
// that yields nothing at all reports ErrDeviceQueryFailed. The device Set is
// built once at startup and is read-only afterwards, so the poller and the
// command dispatcher share it without locking.
package device

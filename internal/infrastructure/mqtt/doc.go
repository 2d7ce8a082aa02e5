// Package mqtt provides the agent's local MQTT link.
//
// The broker is optional. When enabled it carries three things:
//   - a retained mirror of every reading (fieldrelay/{agent}/state/...)
//   - a local command ingress topic routed through the same dispatcher as
//     collector commands
//   - online/offline status with a last will, plus periodic health reports
//
// Reconnection to the broker is handled by paho; subscriptions are restored
// after each reconnect. Handlers run on paho's goroutines and must not block;
// a panicking handler is recovered and logged.
package mqtt

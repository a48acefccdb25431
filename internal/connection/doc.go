// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns exactly one WebSocket connection and all of its timers
//   - Connects lazily and reports each successful open to OnConnected
//   - Reconnects after unintentional loss with capped exponential backoff
//   - Gives up after a fixed number of attempts and reports ErrRetriesExhausted
//   - Sends a keepalive frame on a fixed interval while connected
//   - Treats Disconnect as final for the current cycle: no timer or in-flight
//     dial scheduled before it can bring the connection back
package connection

// Package gateway implements the gateway connection.
//
// The connection:
//   - Identifies (or resumes) as soon as the socket opens
//   - Heartbeats at the interval announced by Hello
//   - Tracks the session id, sequence and resume URL from dispatches
//   - Resumes after a close while the session is resumable, giving up
//     after MaxReconnectAttempts consecutive failed resumes
//   - Reconnects fresh, without limit, when the session is not resumable
//   - Publishes every inbound frame to a Publisher
package gateway

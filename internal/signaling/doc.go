// Package signaling is the participant-facing transport: one WebSocket per
// participant on GET /socket, carrying {"event","data"} envelopes between the
// browser or CLI client and the matchmaking hub. It also serves GET /status.
package signaling

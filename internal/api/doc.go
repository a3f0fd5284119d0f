// Package api implements the HTTP REST API and WebSocket server for lorawatch.
//
// This package provides:
//   - Read endpoints for device state and dashboard statistics
//   - A control endpoint that sends relay downlinks through the dispatcher
//   - A WebSocket endpoint whose connections subscribe to the broadcast hub
//   - Bearer token validation (HS256) when a secret is configured
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/stats
//	GET  /api/v1/devices[?status=online|recent|offline]
//	GET  /api/v1/devices/{eui}
//	POST /api/v1/devices/{eui}/control   {"action":"on","channel":"switch_1"}
//	GET  /api/v1/devices/{eui}/commands[?outcome=sent|failed&limit=&offset=]
//	GET  /api/v1/ws
//	GET  /dashboard/
//
// Control requests need the device:control permission (operator role).
// Every control request is written to the command audit trail.
//
// Errors use the envelope {"error":{"code":"...","message":"..."}}.
//
// # Graceful Degradation
//
// The server runs without a dispatcher or audit repository; reads and
// WebSocket connections work and the affected endpoints answer 503.
package api

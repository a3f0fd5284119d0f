// Package auth validates the bearer tokens that guard the lorawatch API.
//
// Tokens are HS256 JWTs signed with a shared secret by an external identity
// service. Two roles exist:
//   - viewer: device reads and the live WebSocket stream
//   - operator: everything a viewer can do plus relay commands
//
// Role permissions are a static map; there is no database lookup.
package auth

// Package auth issues and verifies the JWTs guarding minerctl's control API.
//
// Tokens are HS256, signed with security.jwt.secret, and carry one of
// three roles:
//
//   - viewer: status, telemetry, history and logs
//   - operator: viewer plus miner start/stop and tuning apply
//   - admin: operator plus tuning diagnostics
//
// Permissions are a static role mapping; there is no user database.
// `minerctl token` mints tokens for dashboards and scripts.
package auth

// Package auth defines the identity boundary of the platform.
//
// It is the single place that owns user lifecycle, sign-in, and token
// issuance so other services can depend on stable user IDs and bearer
// tokens instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/httpapi: HTTP handlers for sign-in, linking, and account actions
//   - account: provisioning, login, and identity link management
//   - provider: SSO provider adapters (Google, GitHub)
//   - session: pending session broker between callback and exchange
//   - token: access and refresh token issuance and validation
//   - actiontoken: single-use emailed tokens (verification, reset, change)
//   - storage: persistence interfaces and SQLite implementation
//   - user: user domain model and helpers
package auth

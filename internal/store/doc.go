// Package store persists the logged-in session between runs.
//
// Values are opaque bytes keyed by name. The session keeps three entries:
//   - userInfo: JSON-encoded UserInfo of the logged-in user
//   - token: the bearer token issued at login
//   - tokenExpire: token expiry as RFC 3339
//
// Memory is used when nothing must survive a restart; Postgres keeps the
// entries in a kv_store table.
package store

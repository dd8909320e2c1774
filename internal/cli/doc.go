// Package cli provides the interactive vault shell and the runtime wiring
// shared by the vault command.
//
// Open wires configuration, the local store, sessions, the audit log, the
// vault services and, unless the cloud mode is none, a sync engine over the
// configured backend. App runs a read-eval-print loop over that runtime:
// prompt for credentials, then execute commands until exit or EOF.
//
// Key features:
//   - init, login, logout and invitation acceptance
//   - put, get, delete, list and search secrets; namespaces; history and restore
//   - user management in collaborative mode
//   - sync, status, conflicts and manual resolution
//   - audit tail and search, stats, value generation
package cli

// Package secrets persists encrypted secret records, their retained prior
// versions and the namespaces that group them.
//
// Rows are keyed by (tenant_id, namespace, key), so listing a namespace is
// an index prefix scan. Updates are optimistic: the caller passes the
// version it read and a concurrent writer that got there first turns the
// update into common.ErrVersionConflict.
//
// The repository never sees plaintext; ciphertext, nonce and algorithm tag
// are stored as produced by the crypto layer.
package secrets

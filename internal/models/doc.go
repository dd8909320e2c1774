// Package models defines the persisted entities of the vault: tenants,
// users and invitations, secret records with their history, audit entries
// and store statistics.
package models

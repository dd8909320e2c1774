package models

// Stats summarizes one tenant's local store.
type Stats struct {
	Secrets    int
	Tombstones int
	Pending    int
	Namespaces int
	Users      int
	TotalBytes int64
}

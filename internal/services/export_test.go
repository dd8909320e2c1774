package services

// SetHashAccessPassword swaps the access-password hasher until the returned
// func is called.
func SetHashAccessPassword(f func([]byte) (string, error)) (restore func()) {
	prev := hashAccessPassword
	hashAccessPassword = f
	return func() { hashAccessPassword = prev }
}

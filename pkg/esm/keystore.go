package esm

// KeyLookup resolves a server_id to its symmetric key. Not-found is a normal
// outcome represented by a nil key and nil error; the caller disconnects the
// endpoint in that case. Implementations may cache internally; correctness
// does not depend on it. Get is called synchronously from the router
// goroutine (one of its allowed suspension points), never concurrently with
// itself, but implementations backing onto a shared store (e.g. the sqlite3
// keystore) should still be safe for use from other callers outside this
// package.
type KeyLookup interface {
	Get(serverID []byte) (key []byte, err error)
}

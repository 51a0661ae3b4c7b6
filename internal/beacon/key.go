package beacon

// Key identifies one beacon's entry in the cache by session number and
// session sequence number. Immutable; equality and hashing use both
// fields, which the Go struct/map machinery gives us for free as long as
// Key is used by value as a map key.
type Key struct {
	SessionNumber   int32
	SessionSequence int32
}

package derive

// PurgeableStage is a lazy, single-consumer stage of the derivation pipeline.
// Each pull may yield an item or nothing; nothing means no item is derivable
// from the data seen so far. Purge discards all buffered items and propagates
// upstream, so the next pull reflects only input arriving after the purge
// point. Stages own their upstream exclusively.
type PurgeableStage[T any] interface {
	// Next returns the next derived item, or ok=false if none is available yet.
	Next() (out T, ok bool, err error)
	// Purge drops buffered state here and in all upstream stages.
	Purge()
}

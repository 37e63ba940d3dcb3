package alloc

// Cost is what evicting a live resource would cost.
//
// Bytes is the amount of data that has to be copied out (and back in).
// NextUse is the distance to the resource's next use; larger is cheaper to
// evict because the space stays useful for longer.
type Cost struct {
	Bytes   int64
	NextUse int
}

// Handler supplies per-resource knowledge to the allocator.
//
// Commit is called once per placed resource with its final offset and may
// reject the placement (e.g. with a DOUBLE_ALLOCATION error). Evict is called
// for every victim before the freed range is reused.
type Handler[R comparable] interface {
	Size(r R) int64
	Alignment(r R) int64 // 0 = allocator default
	IsFixed(r R) bool
	Commit(r R, offset int64) error
	Evict(r R)
	SpillCost(r R) Cost
	IsSpillable(r R) bool
}

// Eviction records one victim removed to make room for an allocation.
type Eviction[R comparable] struct {
	Resource R
	Offset   int64
	Size     int64
}

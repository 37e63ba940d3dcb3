package alloc

// Option configures an Allocator.
type Option func(*options)

type options struct {
	alignment    int64
	forbidSpills bool
	victims      VictimOrder
	memory       string
}

// WithAlignment sets the default alignment for resources whose handler
// reports 0.
func WithAlignment(align int64) Option {
	return func(o *options) {
		o.alignment = align
	}
}

// WithSpillsForbidden marks the memory class as non-spillable: a request
// that would need an eviction fails with UNSUPPORTED_SPILL.
func WithSpillsForbidden() Option {
	return func(o *options) {
		o.forbidSpills = true
	}
}

// WithVictimOrder replaces the default CheapestFirst eviction order.
func WithVictimOrder(order VictimOrder) Option {
	return func(o *options) {
		o.victims = order
	}
}

// WithMemoryName sets the memory name reported in errors.
func WithMemoryName(name string) Option {
	return func(o *options) {
		o.memory = name
	}
}

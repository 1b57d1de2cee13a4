package epoch

// Config holds named, non-implementation-specific tuning knobs. Go has no
// const-generics equivalent, so nexusepoch follows turdb's
// Options/PoolOptions idiom: a struct carrying default values, overridable
// through functional options passed to NewCollector.
type Config struct {
	// MaxParticipants bounds the number of goroutines that may hold a
	// slot simultaneously. Default 256.
	MaxParticipants int

	// BranchingFactor is the hierarchical tree's fixed fanout B. Default 4.
	BranchingFactor int

	// MaxDepth bounds the tree height; the capacity ceiling is
	// BranchingFactor^MaxDepth. Default 4 (ceiling 256).
	MaxDepth int

	// GCFrequency is how many pin operations elapse, per collector,
	// between automatic try_advance_and_collect attempts. A policy knob,
	// not a correctness parameter. Default 128.
	GCFrequency int64
}

// DefaultConfig returns the named defaults.
func DefaultConfig() Config {
	return Config{
		MaxParticipants: 256,
		BranchingFactor: DefaultBranchingFactor,
		MaxDepth:        DefaultMaxDepth,
		GCFrequency:     128,
	}
}

// Option configures a Collector at construction time.
type Option func(*Config)

// WithMaxParticipants overrides MaxParticipants.
func WithMaxParticipants(n int) Option {
	return func(c *Config) { c.MaxParticipants = n }
}

// WithBranchingFactor overrides BranchingFactor.
func WithBranchingFactor(b int) Option {
	return func(c *Config) { c.BranchingFactor = b }
}

// WithMaxDepth overrides MaxDepth.
func WithMaxDepth(d int) Option {
	return func(c *Config) { c.MaxDepth = d }
}

// WithGCFrequency overrides GCFrequency.
func WithGCFrequency(n int64) Option {
	return func(c *Config) { c.GCFrequency = n }
}

package shade

// ManagerOption configures a PipelineManager during creation.
// Use functional options to customize manager behavior.
//
// Example:
//
//	// Deployed build: embedded sources, no hot reload
//	manager, err := shade.NewPipelineManager(cache)
//
//	// Development build: hot reload driven by a directory watcher
//	manager, err := shade.NewPipelineManager(cache, shade.WithChangeSource(watcher))
type ManagerOption func(*managerOptions)

// managerOptions holds optional configuration for PipelineManager creation.
type managerOptions struct {
	source ChangeSource
}

// defaultManagerOptions returns the default manager options.
func defaultManagerOptions() managerOptions {
	return managerOptions{
		source: nil, // ReloadChanged is a no-op without a source
	}
}

// WithChangeSource sets the change notification source drained by
// ReloadChanged. The source's Changed method must be non-blocking; the
// watch package's Watcher qualifies.
//
// Example:
//
//	watcher, err := watch.New("assets/shaders")
//	if err != nil {
//	    // handle error
//	}
//	defer watcher.Close()
//	manager, err := shade.NewPipelineManager(cache, shade.WithChangeSource(watcher))
func WithChangeSource(source ChangeSource) ManagerOption {
	return func(o *managerOptions) {
		o.source = source
	}
}

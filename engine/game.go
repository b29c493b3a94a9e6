package engine

// Game is the application driven by the engine.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnShutdown        Shutdown
}

// Initialize runs once the device and the render systems exist.
type Initialize func(e *Engine) error

// Update runs once per frame before the frame is recorded.
type Update func(deltaTime float64) error
type Shutdown func() error

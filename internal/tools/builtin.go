package tools

// NewDefaultRegistry returns a registry with the built-in tools installed.
// root confines read_file to a working directory.
func NewDefaultRegistry(root string) *Registry {
	registry := NewRegistry()
	registry.Register(NewCalculatorTool())
	registry.Register(NewReadFileTool(root))
	registry.Register(NewCompleteTaskTool())
	return registry
}

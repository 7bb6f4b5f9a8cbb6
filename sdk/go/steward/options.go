package steward

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath string
	agentID    string
	mode       Mode
}

// WithConfig sets the path to the steward config YAML. Defaults to
// ~/.steward/config.yaml.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithAgentID stamps submissions with an agent identifier.
func WithAgentID(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithMode sets the default autonomy mode for submissions. Defaults to
// ModeApprovalGated.
func WithMode(mode Mode) Option {
	return func(c *clientConfig) { c.mode = mode }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	mode Mode
}

// WrapWithMode overrides the client-level mode for this wrap.
func WrapWithMode(mode Mode) WrapOption {
	return func(w *wrapConfig) { w.mode = mode }
}

package model

// RouteRule maps a request path pattern to the application and view name
// used for access decisions. Patterns use chi syntax ("/blog/{id}/edit").
type RouteRule struct {
	App     string   `json:"app" yaml:"app" mapstructure:"app"`
	View    string   `json:"view" yaml:"view" mapstructure:"view"`
	Pattern string   `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty" mapstructure:"methods"`
	// Decorated marks views that the host application wraps with the guard
	// itself, independently of any middleware.
	Decorated bool `json:"decorated,omitempty" yaml:"decorated,omitempty" mapstructure:"decorated"`
}

// Package config loads and hot-reloads backbone's configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats go
// through the same strict decoder (unknown fields are rejected). The
// Manager watches the file with fsnotify and fans validated updates out to
// subscribers.
package config

// Package config loads store configuration from YAML. All fields have safe
// defaults; an absent file is not required for operation, the façade accepts
// the same knobs programmatically.
package config

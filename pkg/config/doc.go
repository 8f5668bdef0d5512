// Package config defines the configuration model for the Charon gateway
// and provides loading, defaulting, validation, and hot-reload support.
//
// Configuration is read from a YAML file, merged with defaults, overridden
// by CHARON_* environment variables, and validated before use. The provider
// and vendor sections can be hot-reloaded at runtime via a file watcher.
package config

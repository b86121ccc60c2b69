// Package config loads the runtime's tunables from the environment, with an
// optional YAML overlay file for values operators want to pin outside the
// process environment (container orchestrators often limit env var counts
// or want config diffed in source control instead).
//
// Precedence, lowest to highest: built-in default, YAML overlay, environment
// variable. Load is a pure function of its inputs (os.Environ snapshot + the
// overlay file content) so it is trivially testable with WithEnvLookup and
// WithOverlayPath.
package config

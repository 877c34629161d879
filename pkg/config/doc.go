// Package config loads the YAML configuration document shared by all
// commands. The document is version gated; unknown versions are rejected at
// startup rather than half-read.
package config

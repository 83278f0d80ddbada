// Package config loads the configuration shared by the phonio binaries.
//
// Values are resolved in order: built-in defaults, an optional YAML file,
// variables from an optional .env file and finally the process environment.
package config

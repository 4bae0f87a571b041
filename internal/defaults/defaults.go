// Package defaults provides embedded copies of the example
// configuration files for the majordomo init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/config.example.yaml . && cp ../../examples/env.example ."

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvFile is the example environment file.
//
//go:embed env.example
var EnvFile []byte

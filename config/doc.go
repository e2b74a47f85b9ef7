// Package config handles application configuration loading and management.
//
// Configuration is stored in ~/.taskgate/config.json and includes the
// default admission capacity and the timing knobs used by hosts embedding
// the controller.
package config

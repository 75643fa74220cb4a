package setup

import "github.com/kelseyhightower/envconfig"

// EnvPrefix is the prefix of the environment variables read by LoadEnvironment.
const EnvPrefix = "ILMTOOL"

// Environment holds the defaults taken from ILMTOOL_PORT, ILMTOOL_BAUDRATE,
// ILMTOOL_DEBUG and ILMTOOL_CONFIG.
type Environment struct {
	Port     string `envconfig:"PORT"`
	Baudrate int    `envconfig:"BAUDRATE" default:"9600"`
	Debug    bool   `envconfig:"DEBUG"`
	Config   string `envconfig:"CONFIG"`
}

func LoadEnvironment() (*Environment, error) {
	var env Environment
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

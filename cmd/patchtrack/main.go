package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/patchtrack/patchtrack/internal/common"
	"github.com/patchtrack/patchtrack/internal/common/app"
	"github.com/patchtrack/patchtrack/internal/ingester"
	"github.com/patchtrack/patchtrack/internal/ingester/configuration"
)

const CustomConfigLocation string = "config"

func init() {
	pflag.StringSlice(CustomConfigLocation, []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.ApplicationConfig
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/patchtrack", userSpecifiedConfigs)

	if err := ingester.Run(app.CreateContextWithShutdown(), &config); err != nil {
		log.Fatalf("Error running ingestion service: %v", err)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/voxcast/voxcast-server/pkg/config"
	serverlogger "github.com/voxcast/voxcast-server/pkg/logger"
	"github.com/voxcast/voxcast-server/pkg/media"
	"github.com/voxcast/voxcast-server/pkg/service"
	"github.com/voxcast/voxcast-server/version"
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to voxcast config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "voxcast config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"VOXCAST_CONFIG"},
	},
	&cli.UintFlag{
		Name:  "port",
		Usage: "port for the signaling HTTP endpoint",
	},
	&cli.IntFlag{
		Name:  "media-workers",
		Usage: "number of media workers, defaults to the CPU count",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and binds to localhost. insecure for production",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	app := &cli.App{
		Name:        "voxcast-server",
		Usage:       "WebRTC conferencing signal server",
		Description: "run without subcommands to start the server",
		Flags:       baseFlags,
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "ports",
				Usage:  "print ports that server is configured to use",
				Action: printPorts,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := !c.Bool("disable-strict-config")
	conf, err := config.NewConfig(confString, strictMode, c)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(conf.Logging)

	if conf.Development {
		serverlogger.Infow("starting in development mode")
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	server, err := service.NewVoxcastServer(conf, media.NewEngine())
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		serverlogger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop()
	}()

	return server.Start()
}

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}
	fmt.Printf("http/signaling: %d\n", conf.Port)
	fmt.Printf("rtc udp: %d-%d\n", conf.RTC.PortRangeStart, conf.RTC.PortRangeEnd)
	return nil
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	outConfigBody, err := os.ReadFile(configFile)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}

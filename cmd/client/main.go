package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blukai/featherlink/internal/modclient"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/samber/lo"
)

const usage = `usage: client [namespace call [body]]

without arguments the client joins and logs every message it receives until
interrupted. with arguments it joins, makes one ui rpc call and prints the
response.`

type Config struct {
	ServerAddr string   `envconfig:"FEATHER_SERVER_ADDR" required:"true" default:"127.0.0.1:5000"`
	Platform   string   `envconfig:"FEATHER_PLATFORM" default:"fabric"`
	Mods       []string `envconfig:"FEATHER_MODS"`
	LogLevel   string   `envconfig:"FEATHER_LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func erringMain(args []string) error {
	if len(args) == 1 || len(args) > 3 {
		return fmt.Errorf("invalid arguments\n%s", usage)
	}

	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	platform, ok := protocol.ParsePlatform(config.Platform)
	if !ok {
		return fmt.Errorf("unknown platform %q", config.Platform)
	}

	logger := configureLogger(config.LogLevel)

	mc, err := modclient.NewModClient("udp4", config.ServerAddr, modclient.Config{
		Platform: platform,
		FeatherMods: lo.Map(config.Mods, func(name string, _ int) protocol.FeatherMod {
			return protocol.FeatherMod{Name: name}
		}),
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct mod client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- mc.Run(ctx)
	}()

	version, err := mc.Handshake(ctx)
	if err != nil {
		return fmt.Errorf("could not join: %w", err)
	}
	if version != protocol.Version {
		logger.Warn().
			Uint32("server", version).
			Uint32("client", protocol.Version).
			Msg("protocol versions differ")
	}
	logger.Info().Msgf("joined %s", config.ServerAddr)

	if len(args) > 0 {
		body := ""
		if len(args) == 3 {
			body = args[2]
		}

		resp, err := mc.Call(ctx, args[0], args[1], body)
		cancel()
		<-runErrCh
		if err != nil {
			return err
		}
		if !resp.Found {
			return fmt.Errorf("no handler for %s/%s", args[0], args[1])
		}
		fmt.Println(string(resp.Payload))
		return nil
	}

	for ctx.Err() == nil {
		m, err := mc.Recv(ctx)
		if err != nil {
			// nothing arrived in time
			continue
		}
		logger.Info().
			Str("message", fmt.Sprintf("%T", m)).
			Msgf("%+v", m)
	}

	logger.Info().Msg("leaving")
	if err := <-runErrCh; err != nil {
		return fmt.Errorf("mod client run failed: %w", err)
	}
	return nil
}

func main() {
	if err := erringMain(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "client failed: %v\n", err)
		os.Exit(42)
	}
}

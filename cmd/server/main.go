package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/featherlink/internal/handshake"
	"github.com/blukai/featherlink/internal/hostserver"
	"github.com/blukai/featherlink/internal/messaging"
	"github.com/blukai/featherlink/internal/protocol"
	"github.com/blukai/featherlink/internal/rpc"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/samber/lo"
)

type Config struct {
	Addr        string        `envconfig:"FEATHER_ADDR" required:"true" default:"0.0.0.0:5000"`
	IdleTimeout time.Duration `envconfig:"FEATHER_IDLE_TIMEOUT" default:"10s"`
	RPCTimeout  time.Duration `envconfig:"FEATHER_RPC_TIMEOUT" default:"30s"`
	NotifyDelay time.Duration `envconfig:"FEATHER_NOTIFY_DELAY" default:"3s"`
	Operators   []string      `envconfig:"FEATHER_OPERATORS"`
	Background  string        `envconfig:"FEATHER_BACKGROUND"` // image file path
	LogLevel    string        `envconfig:"FEATHER_LOG_LEVEL" default:"info"`
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

// handler logs what no built-in part of the server consumes.
type handler struct {
	logger *log.Logger
}

func (h *handler) Join(p *messaging.Player) {}

func (h *handler) Message(p *messaging.Player, m protocol.Message) {
	h.logger.Info().
		Str("player", p.Name()).
		Str("message", fmt.Sprintf("%T", m)).
		Msgf("%+v", m)
}

func (h *handler) Leave(p *messaging.Player) {}

// Notice has no chat to write to over udp, so operators find it in the log.
func (h *handler) Notice(p *messaging.Player, message string) {
	h.logger.Warn().
		Str("player", p.Name()).
		Msg(message)
}

// serverController answers calls in the "featherlink" namespace.
func serverController(service *messaging.Service, logger *log.Logger) *rpc.Controller {
	respond := func(req *rpc.Request, resp *rpc.Response, data []byte, err error) {
		if err != nil {
			logger.Error().
				Str("call", req.Call).
				Msgf("could not build rpc response: %v", err)
			err = resp.Fail()
		} else {
			err = resp.Respond(data)
		}
		if err != nil {
			logger.Error().
				Str("call", req.Call).
				Msgf("could not answer rpc call: %v", err)
		}
	}

	return rpc.NewController().
		Handle("ping", func(req *rpc.Request, resp *rpc.Response) {
			respond(req, resp, []byte(req.Body), nil)
		}).
		Handle("players", func(req *rpc.Request, resp *rpc.Response) {
			names := lo.Map(service.Players(), func(p *messaging.Player, _ int) string {
				return p.Name()
			})
			data, err := json.Marshal(names)
			respond(req, resp, data, err)
		})
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	var background []byte
	if config.Background != "" {
		background, err = os.ReadFile(config.Background)
		if err != nil {
			return fmt.Errorf("could not read server background: %w", err)
		}
	}

	notifier := handshake.NewNotifier(config.NotifyDelay, logger)
	defer notifier.Close()

	service := messaging.NewService(messaging.Config{
		Handler:     &handler{logger: logger},
		RPC:         rpc.NewHost(logger),
		Notifier:    notifier,
		CallTimeout: config.RPCTimeout,
		Background:  background,
	}, logger)
	if err := service.RPC().Register("featherlink", serverController(service, logger)); err != nil {
		return fmt.Errorf("could not register server rpc: %w", err)
	}

	hostServer, err := hostserver.NewHostServer("udp4", config.Addr, service, hostserver.Config{
		IdleTimeout: config.IdleTimeout,
		Operators:   config.Operators,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct host server: %w", err)
	}
	logger.Info().Msgf("started host server on %s", hostServer.Addr())

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var hostServerRunErr error
	go func() {
		defer wg.Done()
		hostServerRunErr = hostServer.Run(ctx)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if hostServerRunErr != nil {
		return fmt.Errorf("host server run failed: %w", hostServerRunErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(42)
	}
}

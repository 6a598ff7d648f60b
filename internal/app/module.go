package app

import (
	"net/http"

	"github.com/wrongjunior/devlens/internal/config"
	"github.com/wrongjunior/devlens/internal/hostbus"
	"github.com/wrongjunior/devlens/internal/logger"
	"github.com/wrongjunior/devlens/internal/service"
	transportServer "github.com/wrongjunior/devlens/internal/transport/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Module собирает relay: конфигурация, логгер, шина хоста, сервис пересылки
// и оба транспорта. configPath может указывать на несуществующий файл.
func Module(configPath string) fx.Option {
	return fx.Options(
		fx.Provide(func() (*config.Config, error) { return config.LoadConfig(configPath) }),
		fx.Provide(func(cfg *config.Config) (*zap.Logger, error) { return logger.New(cfg.Log) }),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(provideBus),
		fx.Provide(provideForwarder),
		fx.Provide(service.NewRelayService),
		fx.Provide(fx.Annotate(provideAPIRouter, fx.ResultTags(`name:"api"`))),
		fx.Provide(fx.Annotate(provideFrameRouter, fx.ResultTags(`name:"frames"`))),
		fx.Invoke(registerHooks),
	)
}

func provideBus(cfg *config.Config, l *zap.Logger) *hostbus.Bus {
	return hostbus.NewBus(cfg.Host.SubscriberBuffer, l.Named("hostbus"))
}

// provideForwarder выбирает получателя событий: внешний хост по host.forward_url
// или встроенную шину.
func provideForwarder(cfg *config.Config, bus *hostbus.Bus, l *zap.Logger) service.Forwarder {
	if cfg.Host.ForwardURL != "" {
		l.Info("Forwarding events to external host", zap.String("url", cfg.Host.ForwardURL))
		return hostbus.NewHTTPForwarder(cfg.Host.ForwardURL, cfg.Host.Timeout.Duration)
	}
	return bus
}

func provideAPIRouter(cfg *config.Config, relay *service.RelayService, bus *hostbus.Bus, l *zap.Logger) http.Handler {
	api := transportServer.NewAPIHandler(relay, l.Named("api"), cfg.HTTP.MaxBodyBytes)
	return transportServer.SetupAPIRouter(api, bus, l, cfg.HTTP.EventsPath)
}

func provideFrameRouter(cfg *config.Config, relay *service.RelayService, l *zap.Logger) http.Handler {
	frames := transportServer.NewFrameHandler(relay, l.Named("ws"), transportServer.FrameOptions{
		MaxFrameBytes: cfg.WS.MaxFrameBytes,
		PingInterval:  cfg.WS.PingInterval.Duration,
		ReadTimeout:   cfg.WS.ReadTimeout.Duration,
		WriteTimeout:  cfg.WS.WriteTimeout.Duration,
	})
	return transportServer.SetupFrameRouter(frames, l, cfg.WS.Path)
}

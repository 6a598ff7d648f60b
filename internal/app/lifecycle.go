package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wrongjunior/devlens/internal/config"
	"github.com/wrongjunior/devlens/internal/hostbus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type serverDeps struct {
	fx.In
	Config *config.Config
	Logger *zap.Logger
	Bus    *hostbus.Bus
	API    http.Handler `name:"api"`
	Frames http.Handler `name:"frames"`
}

// registerHooks привязывает оба листенера синхронно в OnStart: занятый порт
// прерывает запуск приложения.
func registerHooks(lc fx.Lifecycle, d serverDeps) {
	api := &http.Server{
		Addr:              d.Config.HTTP.Addr,
		Handler:           d.API,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// На постоянных соединениях таймауты задаёт сам обработчик.
	frames := &http.Server{
		Addr:              d.Config.WS.Addr,
		Handler:           d.Frames,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if d.Config.Source != "" {
				d.Logger.Info("Configuration loaded", zap.String("path", d.Config.Source))
			} else {
				d.Logger.Info("Using default configuration")
			}
			if err := serve(api, d.Logger.Named("api")); err != nil {
				return err
			}
			if err := serve(frames, d.Logger.Named("ws")); err != nil {
				api.Close()
				return err
			}
			for _, u := range endpointURLs(d.Config) {
				d.Logger.Info("Listening", zap.String("url", u))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("Relay stopping")
			// Подписчики закрываются первыми: hijacked-соединения Shutdown не ждёт.
			d.Bus.Close()
			return errors.Join(frames.Shutdown(ctx), api.Shutdown(ctx))
		},
	})
}

func serve(srv *http.Server, l *zap.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("Server failed", zap.Error(err))
		}
	}()
	return nil
}

// endpointURLs возвращает адреса для лога старта. Для листенера на всех
// интерфейсах добавляется адрес в локальной сети, по которому страницу
// инструментируют с другого устройства.
func endpointURLs(cfg *config.Config) []string {
	urls := []string{
		"http://" + cfg.HTTP.Addr + "/api",
		"ws://" + cfg.HTTP.Addr + cfg.HTTP.EventsPath,
		"ws://" + cfg.WS.Addr + cfg.WS.Path,
	}
	host, port, err := net.SplitHostPort(cfg.WS.Addr)
	if err != nil || (host != "" && host != "0.0.0.0" && host != "::") {
		return urls
	}
	if ip := lanAddress(); ip != "" {
		urls = append(urls, "ws://"+net.JoinHostPort(ip, port)+cfg.WS.Path)
	}
	return urls
}

// lanAddress возвращает первый не-loopback IPv4-адрес или пустую строку.
func lanAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

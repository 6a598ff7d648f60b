package main

import (
	"flag"

	"github.com/wrongjunior/devlens/internal/app"
	"go.uber.org/fx"
)

func main() {
	configPath := flag.String("config", "devlens.yaml", "Path to configuration file (yaml, toml or json)")
	flag.Parse()

	// Run блокируется до SIGINT/SIGTERM и выполняет OnStop-хуки.
	fx.New(app.Module(*configPath)).Run()
}

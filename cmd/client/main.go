package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/filerelay/internal/client/cli"
	"github.com/dmitrijs2005/filerelay/internal/client/config"
)

func main() {

	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err = app.Run(ctx, cli.Positional(os.Args[1:], cli.ValueFlags))
	stop()
	_ = app.Close()

	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

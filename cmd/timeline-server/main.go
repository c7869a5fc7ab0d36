package main

import (
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/astromechza/timeline/pkg/config"
	"github.com/astromechza/timeline/pkg/server"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	addrVar := flag.String("addr", cfg.Addr, "the address to listen on")
	flag.Parse()

	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	store, err := server.OpenStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	s := server.New(store)
	httpServer := &http.Server{Addr: *addrVar, Handler: s.Handler()}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	// hijacked websocket connections are not tracked by the http server
	s.CloseListeners()
	_ = httpServer.Close()

	wg.Wait()
	return nil
}

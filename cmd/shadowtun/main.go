// Command shadowtun starts, stops, or restarts a userspace tunnel
// between a TUN device and a UDP peer.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shadowtun/internal/config"
	"shadowtun/internal/daemon"
	"shadowtun/internal/vpn"
)

const stopTimeout = 5 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shadowtun: open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	switch cfg.Cmd {
	case config.CmdStop:
		if err := daemon.Stop(cfg.PidFile, stopTimeout); err != nil {
			log.Fatalf("shadowtun: stop: %v", err)
		}
	case config.CmdRestart:
		if err := daemon.Stop(cfg.PidFile, stopTimeout); err != nil {
			log.Printf("shadowtun: restart: stop: %v", err)
		}
		run(cfg)
	case config.CmdStart:
		run(cfg)
	}
}

// run acquires the PID file, starts the tunnel, and blocks until a
// termination signal or a fatal pump error brings it down.
func run(cfg *config.Config) {
	pf, err := daemon.Acquire(cfg.PidFile)
	if err != nil {
		log.Fatalf("shadowtun: %v", err)
	}
	defer pf.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("shadowtun: signal received, shutting down")
		cancel()
	}()

	tun, err := vpn.Start(ctx, cfg)
	if err != nil {
		log.Fatalf("shadowtun: start: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-tun.Done():
		log.Println("shadowtun: tunnel exited on its own, shutting down")
	}
	if err := tun.Stop(); err != nil {
		log.Printf("shadowtun: stop: %v", err)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/go-lib/log"
	x "github.com/linuxdeepin/go-x11-client"

	"github.com/linuxdeepin/layoutd/backend"
	"github.com/linuxdeepin/layoutd/display"
	"github.com/linuxdeepin/layoutd/store"
)

var logger = log.NewLogger("layoutd")

func main() {
	xConn, err := x.NewConn()
	if err != nil {
		logger.Fatal("failed to connect X:", err)
	}

	b, err := backend.NewX11Backend(xConn)
	if err != nil {
		logger.Fatal("failed to start randr backend:", err)
	}
	defer b.Close()

	s, err := store.Open()
	if err != nil {
		logger.Fatal("failed to open arrangement store:", err)
	}
	defer s.Close()

	err = s.Watch(func() {
		logger.Info("arrangement store changed on disk, reloaded")
	})
	if err != nil {
		logger.Warning("failed to watch arrangement store for external edits:", err)
	}

	sysBus, err := dbus.SystemBus()
	if err != nil {
		logger.Warning("failed to connect to the system bus, ArrangementChanged will not be emitted:", err)
		sysBus = nil
	}

	m := display.NewManager(b, s, sysBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sig
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := m.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("manager stopped:", err)
	}
}

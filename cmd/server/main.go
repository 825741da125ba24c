package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/server"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "roomchat",
		Short:         "Room-scoped WebSocket chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve()
		},
	}

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("roomchat %s (%s)\n", version, commit)
		},
	}
}

func serve() error {
	log.Println("Starting RoomChat server...")

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return err
	}
	server.SetConfig(cfg)

	hub := server.NewHub()
	go hub.Run()
	log.Println("Hub started and ready to manage room connections")

	router := server.SetupRoutes(hub)
	httpServer := server.CreateServer(cfg.Port, router)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-stop:
		log.Printf("Received signal %s, shutting down", sig)
	}

	// Close every live connection with 1001 before the listener goes away.
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		log.Printf("Hub shutdown incomplete: %v", err)
	}
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Println("Shutdown complete")
	return nil
}

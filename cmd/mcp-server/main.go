// Package main provides the stdio entry point for the CKD screening MCP server.
// It requires no external databases: input comes from JSON files and runs are
// stored in SQLite under CKD_DATA_DIR.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ckd-screening-service/internal/config"
	"github.com/ckd-screening-service/internal/mcp"
)

func main() {
	cfg := config.LoadLiteConfig()

	// stdout carries the protocol, so diagnostics go to stderr.
	log.SetOutput(os.Stderr)
	log.Printf("Data directory: %s", cfg.DataDir)

	server, err := mcp.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Printf("MCP server failed: %v", err)
		return
	}

	log.Println("CKD screening MCP server stopped")
}

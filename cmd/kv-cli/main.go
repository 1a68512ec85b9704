package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/heysubinoy/filekv/pkg/client"
)

func main() {
	// Get server address from environment or use default
	defaultAddr := os.Getenv("FILEKV_ADDR")
	if defaultAddr == "" {
		defaultAddr = "127.0.0.1:5000"
	}
	addr := flag.String("addr", defaultAddr, "filekv server address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	c := &client.Client{Addr: *addr, Timeout: *timeout}
	ctx := context.Background()

	command := args[0]

	switch command {
	case "get":
		if len(args) != 2 {
			fmt.Println("Usage: kv-cli get <key>")
			os.Exit(1)
		}
		handleGet(ctx, c, args[1])

	case "set":
		if len(args) < 2 {
			fmt.Println("Usage: kv-cli set <key> [value...]")
			os.Exit(1)
		}
		handleSet(ctx, c, args[1], strings.Join(args[2:], " "))

	case "del", "delete":
		if len(args) != 2 {
			fmt.Println("Usage: kv-cli del <key>")
			os.Exit(1)
		}
		handleDelete(ctx, c, args[1])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleGet(ctx context.Context, c *client.Client, key string) {
	value, err := c.Get(ctx, key)
	if errors.Is(err, client.ErrNotFound) {
		fmt.Printf("Key '%s' not found\n", key)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Get failed: %v", err)
	}
	fmt.Println(value)
}

func handleSet(ctx context.Context, c *client.Client, key, value string) {
	if err := c.Set(ctx, key, value); err != nil {
		log.Fatalf("Set failed: %v", err)
	}
	fmt.Printf("Set '%s' = '%s'\n", key, value)
}

func handleDelete(ctx context.Context, c *client.Client, key string) {
	if err := c.Delete(ctx, key); err != nil {
		log.Fatalf("Delete failed: %v", err)
	}
	fmt.Printf("Deleted '%s'\n", key)
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  kv-cli [-addr host:port] [-timeout 5s] get <key>")
	fmt.Println("  kv-cli [-addr host:port] [-timeout 5s] set <key> [value...]")
	fmt.Println("  kv-cli [-addr host:port] [-timeout 5s] del <key>")
	fmt.Println("")
	fmt.Println("Environment variables:")
	fmt.Println("  FILEKV_ADDR - filekv server address (default: 127.0.0.1:5000)")
}

// Command chat-server runs the central chat Hub and accepts TCP clients
// on a single address.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ircchat/internal/server"
)

const version = "0.1.0"

func main() {
	help := flag.Bool("h", false, "show help")
	flag.BoolVar(help, "help", false, "show help")
	showVersion := flag.Bool("V", false, "show version")
	flag.BoolVar(showVersion, "version", false, "show version")
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println("chat-server", version)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	addr := flag.Arg(0)

	logger := log.New(os.Stdout, "", log.LstdFlags)
	_, trace := os.LookupEnv("CHAT_LOG")

	srv := server.New(logger, trace)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Println("[server] shutting down")
		srv.Shutdown()
	}()

	if err := srv.ListenAndServe(addr); err != nil {
		logger.Printf("[server] stopped: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: chat-server [-h|--help] [-V|--version] <host:port>\n")
}

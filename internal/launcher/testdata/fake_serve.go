// fake_serve mimics the serving runtime's "models serve" command line and
// answers /ping and /invocations. Behaviour knobs come from the environment:
//
//	FAKE_SERVE_EXIT=<code>      exit immediately with code
//	FAKE_SERVE_DELAY_MS=<ms>    wait before listening
//	FAKE_SERVE_NEVER_LISTEN=1   start but never bind the port
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func main() {
	args := os.Args[1:]
	if len(args) >= 2 && args[0] == "models" && args[1] == "serve" {
		args = args[2:]
	}
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	model := fs.String("m", "", "model uri")
	port := fs.Int("p", 0, "port")
	host := fs.String("host", "127.0.0.1", "host")
	fs.Bool("no-conda", false, "ignored")
	_ = fs.Parse(args)

	if code := os.Getenv("FAKE_SERVE_EXIT"); code != "" {
		n, _ := strconv.Atoi(code)
		fmt.Fprintf(os.Stderr, "fake_serve: exiting with %d\n", n)
		os.Exit(n)
	}
	if ms, _ := strconv.Atoi(os.Getenv("FAKE_SERVE_DELAY_MS")); ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	if os.Getenv("FAKE_SERVE_NEVER_LISTEN") == "1" {
		<-sigCh
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/invocations", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Fake-Model", *model)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":        *model,
			"method":       r.Method,
			"query":        r.URL.RawQuery,
			"content_type": r.Header.Get("Content-Type"),
			"body":         string(body),
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Fake-Path", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(r.Method + " " + r.URL.RequestURI()))
	})

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", *host, *port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("fake_serve: %v", err)
		}
	}()
	<-sigCh
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

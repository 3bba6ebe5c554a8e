/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command cortexctl inspects, removes and exercises cortex shared memory keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/srediag/cortex/internal/config"
	"github.com/srediag/cortex/internal/logging"
	"github.com/srediag/cortex/internal/stress"
	"github.com/srediag/cortex/pkg/cortex"
	"github.com/srediag/cortex/pkg/health"
)

const usage = `usage: cortexctl <command> [flags]

commands:
  inspect -key K             print kernel state of the segment and semaphore for K
  remove  -key K             remove the segment and semaphore for K
  stress  [-key K] [-workers N] [-iterations M] [-hold D] [-listen ADDR]
                             increment a shared counter from N handles and verify N*M
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	commands := map[string]func([]string, io.Writer) error{
		"inspect": inspect,
		"remove":  remove,
		"stress":  runStress,
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "cortexctl: unknown command %q\n%s", args[0], usage)
		return 2
	}
	if _, err := config.Load(); err != nil {
		fmt.Fprintf(stderr, "cortexctl: %v\n", err)
		return 2
	}
	if !cortex.Supported() {
		fmt.Fprintln(stderr, "cortexctl: System-V IPC is not supported on this platform")
		return 1
	}
	defer func() { _ = logging.L().Sync() }()

	err := cmd(args[1:], stdout)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "cortexctl %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

type keyFlag struct {
	key cortex.Key
	set bool
}

func (k *keyFlag) String() string { return strconv.Itoa(int(k.key)) }

func (k *keyFlag) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid key %q: %w", s, err)
	}
	k.key = cortex.Key(v)
	k.set = true
	return nil
}

func parseKey(name string, args []string) (cortex.Key, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var k keyFlag
	fs.Var(&k, "key", "segment key, decimal or 0x hex")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if !k.set {
		return 0, errors.New("-key is required")
	}
	return k.key, nil
}

func inspect(args []string, stdout io.Writer) error {
	key, err := parseKey("inspect", args)
	if err != nil {
		return err
	}
	return cortex.DebugKeyDetail(stdout, key)
}

func remove(args []string, stdout io.Writer) error {
	key, err := parseKey("remove", args)
	if err != nil {
		return err
	}
	segErr := cortex.RemoveSegment(key)
	if segErr == nil {
		fmt.Fprintf(stdout, "removed segment key:%d\n", key)
	}
	semErr := cortex.RemoveSemaphore(key)
	if semErr == nil {
		fmt.Fprintf(stdout, "removed semaphore key:%d\n", key)
	}
	if segErr != nil && semErr != nil {
		return errors.Join(segErr, semErr)
	}
	return nil
}

func runStress(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stress", flag.ContinueOnError)
	var (
		k          keyFlag
		workers    = fs.Int("workers", 8, "number of cooperating handles")
		iterations = fs.Int("iterations", 1000, "increments per handle")
		hold       = fs.Duration("hold", 0, "keep handles open this long after the last increment")
		listen     = fs.String("listen", "", "serve /live, /ready and /metrics on this address")
	)
	fs.Var(&k, "key", "counter key, random if unset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		srv := newAdminServer(*listen)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.L().Error("admin server stopped", zap.String("addr", *listen), zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	report, err := stress.Run(ctx, stress.Config{
		Key:        k.key,
		Workers:    *workers,
		Iterations: *iterations,
		Hold:       *hold,
	})
	if report.Key != 0 {
		fmt.Fprintf(stdout, "key:%d workers:%d expected:%d final:%d elapsed:%s\n",
			report.Key, len(report.Workers), report.Expected, report.Final, report.Elapsed)
		for _, w := range report.Workers {
			fmt.Fprintf(stdout, "  worker:%d increments:%d maxwait:%s\n", w.Worker, w.Increments, w.MaxWait)
		}
	}
	return err
}

func newAdminServer(addr string) *http.Server {
	checks := health.NewHandler()
	mux := http.NewServeMux()
	mux.HandleFunc("/live", checks.LiveEndpoint)
	mux.HandleFunc("/ready", checks.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

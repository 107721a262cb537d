package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgbroadcast/internal/app"
	"tgbroadcast/internal/config"
	"tgbroadcast/internal/runtime/lifecycle"
)

func main() {
	var (
		cfgPath  string
		envFiles string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.StringVar(&envFiles, "env", ".env", "comma separated .env files; missing files are ignored")
	flag.Parse()

	if err := config.LoadEnvFiles(splitList(envFiles)...); err != nil {
		fmt.Fprintln(os.Stderr, "fatal env:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = a.Stop(stopCtx, lifecycle.StopFatalError)
		stopCancel()
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	var watchdog <-chan time.Time
	if iv, err := daemon.SdWatchdogEnabled(false); err == nil && iv > 0 {
		t := time.NewTicker(iv / 2)
		defer t.Stop()
		watchdog = t.C
	}

	reason := lifecycle.StopAppStop
wait:
	for {
		select {
		case s := <-sigs:
			reason = lifecycle.FromSignal(s.String())
			break wait
		case <-a.Done():
			reason = lifecycle.StopFatalError
			break wait
		case <-watchdog:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	// running campaigns get time to send their final report
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	_ = a.Stop(stopCtx, reason)
	stopCancel()
	cancel()

	if reason == lifecycle.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
		}
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/kcore/internal/config"
	"github.com/tinyrange/kcore/internal/kernel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kcore: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "kcore.yaml", "Boot manifest")
	debug := flag.Bool("debug", false, "Enable debug logging")
	raise := flag.String("raise", "", "Comma separated controller lines to raise after boot")
	bench := flag.Int("bench", 0, "Raise every bound line this many times and report throughput")
	dump := flag.Bool("dump", false, "Dump kernel state before exiting")
	serve := flag.Duration("run", 0, "Service interrupts for this long (until interrupted if negative)")
	template := flag.String("template", "", "Write a sample manifest to this path and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Boot a kernel manifest and drive its interrupt controller.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -template kcore.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config kcore.yaml -raise 1,8 -dump\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config kcore.yaml -bench 10000\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	setupLogging(*debug)

	if *template != "" {
		return config.WriteTemplate(*template, sampleConfig())
	}

	lines, err := parseLines(*raise)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	k, err := kernel.Boot(cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	for _, line := range lines {
		if err := k.Raise(line); err != nil {
			return err
		}
		slog.Info("kcore: raised line", "line", line, "delivered", k.Service())
	}

	if *bench > 0 {
		if err := runBench(k, *bench); err != nil {
			return err
		}
	}

	if *serve != 0 {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		if *serve > 0 {
			ctx, cancel = context.WithTimeout(ctx, *serve)
			defer cancel()
		}
		slog.Info("kcore: servicing interrupts", "duration", *serve)
		if err := k.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}

	if *dump {
		spew.Fdump(os.Stdout, k.State())
	}
	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	}
}

func parseLines(s string) ([]uint8, error) {
	if s == "" {
		return nil, nil
	}
	var out []uint8
	for _, field := range strings.Split(s, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(field), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid line %q: %w", field, err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

func runBench(k *kernel.Kernel, n int) error {
	var lines []uint8
	for _, b := range k.State().Bindings {
		if b.Line >= 0 {
			lines = append(lines, uint8(b.Line))
		}
	}
	if len(lines) == 0 {
		return fmt.Errorf("bench: no bound controller lines")
	}

	pb := progressbar.Default(int64(n))
	defer pb.Close()

	start := time.Now()
	delivered := 0
	for i := 0; i < n; i++ {
		for _, line := range lines {
			if err := k.Raise(line); err != nil {
				return err
			}
		}
		delivered += k.Service()
		pb.Add(1)
	}
	elapsed := time.Since(start)

	slog.Info("kcore: benchmark complete",
		"rounds", n,
		"delivered", delivered,
		"elapsed", elapsed,
		"perInterrupt", elapsed/time.Duration(max(delivered, 1)),
	)
	return nil
}

func sampleConfig() config.Config {
	return config.Config{
		Processes: []config.ProcessConfig{{
			Name:      "keyboard",
			Module:    "kbd.wasm",
			Interrupt: true,
			IRQs:      []config.IRQConfig{{Vector: 0x21, Function: 0}},
		}},
	}
}

// Command ilog-agent runs the on-host log collection agent: source
// collectors feeding a bounded channel, drained by a sender pipeline that
// ships batches to the backend over TCP (or HTTP as a fallback).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mati-cloud/ilog/agent/sender"
	"github.com/mati-cloud/ilog/agent/sources"
	"github.com/mati-cloud/ilog/config"
	"github.com/mati-cloud/ilog/ingest/log"
	"github.com/mati-cloud/ilog/ingest/log/rotate"
)

const defaultConfigLoc = `/opt/ilog/etc/agent.conf`

var (
	confLoc = flag.String("config-file", defaultConfigLoc, "location of the agent configuration file")
	verbose = flag.Bool("v", false, "display verbose status updates to stderr")
)

func main() {
	flag.Parse()

	lg, err := log.NewStderrLoggerEx("", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get stderr logger: %v\n", err)
		os.Exit(1)
	}

	cfg, warnings, err := config.LoadAgentConfig(*confLoc)
	if err != nil {
		lg.FatalCode(1, "failed to load configuration from %s: %v", *confLoc, err)
		return
	}
	for _, w := range warnings {
		lg.Warnf("%s", w)
	}

	if cfg.Agent.Log_File != "" {
		fout, err := rotate.Open(cfg.Agent.Log_File, 0640, rotate.Options{
			MaxSizeMB:  cfg.Agent.Log_Max_Size_MB,
			MaxHistory: cfg.Agent.Log_Max_History,
		})
		if err != nil {
			lg.FatalCode(1, "failed to open log file %s: %v", cfg.Agent.Log_File, err)
			return
		}
		defer fout.Close()
		if err := lg.AddWriter(fout); err != nil {
			lg.Fatal("failed to add log writer: %v", err)
			return
		}
	}
	if cfg.Agent.Log_Level != "" {
		if err := lg.SetLevelString(cfg.Agent.Log_Level); err != nil {
			lg.FatalCode(1, "invalid log level %q: %v", cfg.Agent.Log_Level, err)
			return
		}
	} else if *verbose {
		lg.SetLevel(log.INFO)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out := sources.NewRecordChan()
	var wg sync.WaitGroup

	for _, src := range buildSources(cfg, lg) {
		src := src
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Start(ctx, out); err != nil && ctx.Err() == nil {
				lg.Errorf("source %s exited: %v", src.Name(), err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runSender(ctx, cfg, out, lg); err != nil && ctx.Err() == nil {
			lg.Errorf("sender exited: %v", err)
		}
	}()

	<-ctx.Done()
	lg.Infof("shutting down")
	wg.Wait()
}

func buildSources(cfg *config.AgentConfig, lg *log.Logger) []sources.Source {
	var out []sources.Source
	if cfg.Sourcefile.Enabled {
		out = append(out, &sources.FileSource{Patterns: cfg.Sourcefile.Paths, Logger: lg})
	}
	if cfg.Sourcedocker.Enabled {
		out = append(out, &sources.ContainerSource{Containers: cfg.Sourcedocker.Containers, Logger: lg})
	}
	if cfg.Sourcejournald.Enabled {
		out = append(out, &sources.JournaldSource{Units: cfg.Sourcejournald.Units, Logger: lg})
	}
	return out
}

func runSender(ctx context.Context, cfg *config.AgentConfig, out sources.RecordChan, lg *log.Logger) error {
	if cfg.Agent.Protocol == "http" {
		hs := sender.NewHTTPSender(cfg.Agent.Server, cfg.Agent.Token, lg)
		return hs.Run(ctx, out)
	}
	s, err := sender.New(cfg.Agent.Server, cfg.Agent.Token, lg)
	if err != nil {
		return err
	}
	return s.Run(ctx, out)
}

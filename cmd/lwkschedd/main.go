package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-logr/logr/funcr"

	"github.com/lwkcore/core/internal/hostif"
	"github.com/lwkcore/core/internal/idle"
	"github.com/lwkcore/core/internal/topology"
)

func main() {
	sockPath := flag.String("sock", "/run/lwkschedd.sock", "unix socket path to serve the control protocol on")
	topoPath := flag.String("topology", "", "path to a topology fixture YAML file (required)")
	metricsAddr := flag.String("metrics-addr", ":9400", "address to serve Prometheus /metrics on")
	tickMS := flag.Int("tick-ms", 4, "host scheduling tick length in milliseconds, for enable-rr conversion")
	flag.Parse()

	log := funcr.New(func(prefix, args string) {
		if prefix != "" {
			os.Stderr.WriteString(prefix + ": " + args + "\n")
		} else {
			os.Stderr.WriteString(args + "\n")
		}
	}, funcr.Options{})

	if *topoPath == "" {
		log.Info("missing required -topology flag")
		os.Exit(2)
	}
	doc, err := os.ReadFile(*topoPath)
	if err != nil {
		log.Error(err, "reading topology fixture")
		os.Exit(1)
	}
	facts, err := topology.LoadFixture(doc, log)
	if err != nil {
		log.Error(err, "parsing topology fixture")
		os.Exit(1)
	}

	d := NewDaemon(facts, nil, hostif.NopTracer{}, *tickMS, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	probe := hostif.NewPortableIdle(log)
	for _, id := range facts.All() {
		drv := idle.New(int(id), probe, hostif.HintShallow, hostif.HintDeep, nil, log)
		go drv.Run()
		go func(cpu int, drv *idle.Driver) {
			ticker := time.NewTicker(50 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					drv.SetLWK(false)
					return
				case <-ticker.C:
					c, u := d.commits.ReadCommits(cpu)
					drv.SetOwned(c+u > 0)
				}
			}
		}(int(id), drv)
	}

	isAbstract := runtime.GOOS == "linux" && len(*sockPath) > 1 && (*sockPath)[0] == '@'
	if !isAbstract {
		os.Remove(*sockPath)
	}
	l, err := net.Listen("unix", *sockPath)
	if err != nil {
		log.Error(err, "listening on control socket")
		os.Exit(1)
	}
	if !isAbstract {
		os.Chmod(*sockPath, 0777)
	}

	go func() {
		if err := ServeMetrics(ctx, d, *metricsAddr, 5*time.Second); err != nil {
			log.Error(err, "metrics server exited")
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		cancel()
		l.Close()
	}()

	log.Info("lwkschedd listening", "sock", *sockPath, "cpus", facts.Len())
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Error(err, "accept failed")
				return
			}
		}
		go NewServer(conn, d).Serve()
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"
	"k8s.io/klog/v2"

	"github.com/sln-repo/strongline/internal/config"
	"github.com/sln-repo/strongline/internal/httpapi"
	"github.com/sln-repo/strongline/internal/repo"
	"github.com/sln-repo/strongline/internal/submission"
	"github.com/sln-repo/strongline/internal/syncsched"
)

var gitCommitSHA = ""

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(interrupt)
	}()

	app := &cli.App{
		Name:        "slnd",
		Version:     gitCommitSHA,
		Description: "Content-addressed document repository with tag-based queries and peer sync.",
		Flags:       NewKlogFlagSet(),
		Commands: []*cli.Command{
			newCmd_Serve(),
			newCmd_Sync(),
			newCmd_Version(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "config",
		Usage:    "path to the repository's JSON or YAML config file",
		Required: true,
		EnvVars:  []string{"SLN_CONFIG"},
	}
}

func newCmd_Serve() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP dispatch adapter for this repository",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "metrics-listen",
				Usage:   "listen address for the prometheus /metrics endpoint; empty disables it",
				EnvVars: []string{"SLN_METRICS_LISTEN"},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			r, err := repo.Open(cfg.Root, cfg.PublicRead)
			if err != nil {
				return err
			}
			defer r.Close()

			if addr := c.String("metrics-listen"); addr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					klog.Errorf("metrics server exited: %v", http.ListenAndServe(addr, mux))
				}()
			}

			srv := httpapi.New(r)
			fhttp := &fasthttp.Server{Handler: srv.Handler()}

			errCh := make(chan error, 1)
			go func() { errCh <- fhttp.ListenAndServe(cfg.Listen) }()
			klog.Infof("serving on %s", cfg.Listen)

			select {
			case <-c.Context.Done():
				return fhttp.Shutdown()
			case err := <-errCh:
				return err
			}
		},
	}
}

func newCmd_Sync() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "pull content from configured peers into this repository",
		Flags: []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			r, err := repo.Open(cfg.Root, cfg.PublicRead)
			if err != nil {
				return err
			}
			defer r.Close()

			sched := syncsched.New(r)
			go sched.Run(c.Context)

			sess := r.AnonymousSession()
			sess.Mode = repo.ModeReadWrite

			for _, pc := range cfg.Peers {
				p := syncsched.Peer{URL: pc.URL, PollInterval: pc.PollInterval}
				peerURL := pc.URL
				go p.Run(c.Context, func(uri string) {
					ingestFromPeer(c.Context, r, sched, p, sess, peerURL, uri)
				})
			}

			klog.Infof("syncing from %d peer(s)", len(cfg.Peers))
			<-c.Context.Done()
			return nil
		},
	}
}

// ingestFromPeer checks whether uri still needs fetching from this peer
// and, if so, pulls its bytes and hands the resulting submission to the
// scheduler so sched.Run's consumer loop stores it.
func ingestFromPeer(ctx context.Context, r *repo.Repository, sched *syncsched.Scheduler, p syncsched.Peer, sess repo.Session, peerURL, uri string) {
	avail, err := r.FileAvailable(ctx, peerURL, uri, "")
	if err != nil {
		klog.Warningf("peer %s: FileAvailable(%s): %v", peerURL, uri, err)
		return
	}
	if avail != repo.AvailNotFound {
		return
	}

	contentType, body, err := p.FetchFile(ctx, uri)
	if err != nil {
		klog.Warningf("peer %s: fetch %s: %v", peerURL, uri, err)
		return
	}

	sub, err := submission.Create(r, sess, contentType, "")
	if err != nil {
		klog.Warningf("peer %s: create submission for %s: %v", peerURL, uri, err)
		return
	}
	if err := sub.Write(body); err != nil {
		_ = sub.Abort()
		klog.Warningf("peer %s: write %s: %v", peerURL, uri, err)
		return
	}
	if err := sub.End(); err != nil {
		_ = sub.Abort()
		klog.Warningf("peer %s: end %s: %v", peerURL, uri, err)
		return
	}

	q := sched.FileQ
	if sub.IsMetaFile() {
		q = sched.MetaQ
	}
	if err := sched.Produce(ctx, q, sub); err != nil {
		klog.Warningf("peer %s: produce %s: %v", peerURL, uri, err)
	}
}

func newCmd_Version() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the build version",
		Action: func(c *cli.Context) error {
			fmt.Println(gitCommitSHA)
			return nil
		},
	}
}

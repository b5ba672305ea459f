package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joncooperworks/capscan/metrics"
)

const defaultDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan the plugin directory whenever it changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		addr, _ := cmd.Flags().GetString("metrics-addr")
		debounce, _ := cmd.Flags().GetDuration("debounce")

		promRegistry := prometheus.NewRegistry()
		m := metrics.NewScan(promRegistry)

		r, err := newRegistry(m)
		if err != nil {
			return err
		}
		defer r.Close(context.Background())

		if addr != "" {
			srv := &http.Server{Addr: addr, Handler: metricsMux(promRegistry), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("metrics server failed")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.WithField("addr", addr).Info("serving metrics")
		}

		w := &watcher{
			dir:      cfg.PluginsDir,
			pattern:  cfg.Pattern,
			debounce: debounce,
			logger:   logger,
			scan: func(ctx context.Context) error {
				snap, err := discover(ctx, r)
				if err != nil {
					return err
				}
				return writeListing(cmd.OutOrStdout(), buildListing(snap), "text")
			},
		}
		return w.run(ctx)
	},
}

func init() {
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().Duration("debounce", defaultDebounce, "Quiet period before rescanning after a change")
}

func metricsMux(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return mux
}

// watcher rescans dir after changes to candidate files settle.
type watcher struct {
	dir      string
	pattern  string
	debounce time.Duration
	logger   *logrus.Logger
	scan     func(ctx context.Context) error
}

func (w *watcher) run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.dir); err != nil {
		return err
	}

	w.rescan(ctx)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.logger.WithError(err).Warn("failed to watch new directory")
					}
					timer.Reset(w.debounce)
					continue
				}
			}
			if w.relevant(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watcher error")

		case <-timer.C:
			w.rescan(ctx)
		}
	}
}

func (w *watcher) rescan(ctx context.Context) {
	if err := w.scan(ctx); err != nil {
		w.logger.WithError(err).Error("rescan failed")
	}
}

// relevant reports whether event touches a candidate file.
func (w *watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	ok, err := doublestar.Match(w.pattern, filepath.Base(event.Name))
	return err == nil && ok
}

func (w *watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	if err := fsw.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.logger.WithError(err).WithField("dir", path).Warn("failed to watch directory")
		}
		return nil
	})
}

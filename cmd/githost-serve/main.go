// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Command githost-serve runs the Git-compatible repository host: the
// Smart-HTTP/LFS daemon (serve), background mark-and-sweep (gc), an
// explicit merge of a repository's live tablets (compact), and client-side mirror
// orchestration against a remote endpoint (mirror).
//
// The teacher's own CLI driver (cmd/zeta-serve/main.go) is built on a
// vendored pkg/kong, which this pack retrieves as five small files
// referencing a Context/Option/Vars API that is never defined anywhere
// in the retrieval — there is nothing complete enough to adapt. This
// command is built on github.com/spf13/cobra instead, the command-tree
// library the cuemby-warren example repo in this same retrieval pack
// uses idiomatically (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/antgroup/hugescm/internal/authstore"
	"github.com/antgroup/hugescm/internal/clientside"
	"github.com/antgroup/hugescm/internal/config"
	"github.com/antgroup/hugescm/internal/gc"
	"github.com/antgroup/hugescm/internal/httpd"
	"github.com/antgroup/hugescm/internal/repohub"
)

var (
	configPath string
	expandEnv  bool
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "githost-serve",
		Short: "Git-compatible repository host",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "~/config/githost-serve.toml", "location of the server config file")
	root.PersistentFlags().BoolVarP(&expandEnv, "expand-env", "E", false, "expand ${var} references in the config file against the environment")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "make the operation more talkative")

	root.AddCommand(serveCmd(), gcCmd(), compactCmd(), mirrorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.ServerConfig, error) {
	sc, err := config.Load(configPath, expandEnv)
	if err != nil {
		return nil, fmt.Errorf("githost-serve: load config %s: %w", configPath, err)
	}
	return sc, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Smart-HTTP and LFS daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(sc.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			bucket, err := openBucket(ctx, sc.BlobBucket)
			if err != nil {
				return err
			}

			cache, err := bloomCache(sc)
			if err != nil {
				return err
			}
			hub := repohub.New(db, bucket, tabletFactory(db, bucket, cache, sc.BlobBucket.KeyPrefix), sc.BloomCache(), sc.BlobBucket.KeyPrefix)

			store := authstore.Open(db)
			auth := &httpd.Authenticator{Passwords: store, SigningKeys: store, Permissions: store, Repos: store}

			srv := httpd.New(httpd.Config{
				Listen:       sc.Listen,
				ReadTimeout:  sc.ReadTimeout.Duration,
				WriteTimeout: sc.WriteTimeout.Duration,
				IdleTimeout:  sc.IdleTimeout.Duration,
				SessionCaps:  sc.SessionCapsValue(),
				LFSSign: func(key string, expiresIn time.Duration) string {
					url, err := bucket.Share(ctx, key, expiresIn)
					if err != nil {
						logrus.Errorf("githost-serve: sign lfs url for %q: %v", key, err)
						return ""
					}
					return url
				},
			}, auth, hub)

			closer := newCloser()
			go closer.listenSignal(context.Background(), srv)
			logrus.Infof("githost-serve listening on %s", sc.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.Errorf("githost-serve: listen: %v", err)
				return err
			}
			<-closer.ch
			logrus.Infof("githost-serve exited")
			return nil
		},
	}
}

func gcCmd() *cobra.Command {
	var repoID int64
	var dryRun bool
	var grace time.Duration
	var maxDelete int
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run one mark-and-sweep garbage collection pass over a repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(sc.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := context.Background()
			bucket, err := openBucket(ctx, sc.BlobBucket)
			if err != nil {
				return err
			}
			cache, err := bloomCache(sc)
			if err != nil {
				return err
			}
			engine, err := openEngine(ctx, db, bucket, cache, sc.BlobBucket.KeyPrefix, repoID)
			if err != nil {
				return err
			}
			store := openObjectStore(engine, bucket, sc.BlobBucket.KeyPrefix, repoID)

			roots, err := collectRoots(ctx, db, repoID)
			if err != nil {
				return err
			}

			if grace == 0 {
				grace = sc.GC.GracePeriod.Duration
			}
			stats, err := gc.Run(ctx, store, engine, engine, gc.Config{
				Roots:          roots,
				GracePeriod:    grace,
				MaxDeleteCount: maxDelete,
				DryRun:         dryRun,
			})
			if err != nil {
				return fmt.Errorf("githost-serve: gc: %w", err)
			}
			logrus.Infof("gc repo=%d reachable=%d scanned=%d deleted=%d skipped_grace=%d skipped_cap=%v dry_run=%v",
				repoID, stats.Reachable, stats.Scanned, stats.Deleted, stats.SkippedGrace, stats.SkippedCap, stats.DryRun)
			return nil
		},
	}
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository ID to collect")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting anything")
	cmd.Flags().DurationVar(&grace, "grace", 0, "override the configured grace period")
	cmd.Flags().IntVar(&maxDelete, "max-delete", 0, "cap the number of objects deleted in one run (0 = unlimited)")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func compactCmd() *cobra.Command {
	var repoID int64
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge a repository's live tablets into one tablet",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(sc.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := context.Background()
			bucket, err := openBucket(ctx, sc.BlobBucket)
			if err != nil {
				return err
			}
			cache, err := bloomCache(sc)
			if err != nil {
				return err
			}
			engine, err := openEngine(ctx, db, bucket, cache, sc.BlobBucket.KeyPrefix, repoID)
			if err != nil {
				return err
			}
			event, err := engine.Compact(ctx)
			if err != nil {
				return fmt.Errorf("githost-serve: compact: %w", err)
			}
			logrus.Infof("compact repo=%d tablet=%s bytes=%d records=%d", repoID, event.TabletKey, event.Bytes, event.RecordCount)
			return nil
		},
	}
	cmd.Flags().Int64Var(&repoID, "repo", 0, "repository ID to compact")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func mirrorCmd() *cobra.Command {
	var repoID int64
	var username, password, token string
	var insecureTLS bool
	var force bool
	cmd := &cobra.Command{
		Use:       "mirror <url> {pull|push|bidir}",
		Short:     "Mirror refs and objects between this repository and a remote githost-serve endpoint",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"pull", "push", "bidir"},
		RunE: func(cmd *cobra.Command, args []string) error {
			remoteURL, dir := args[0], clientside.Direction(args[1])
			switch dir {
			case clientside.DirectionPull, clientside.DirectionPush, clientside.DirectionBidir:
			default:
				return fmt.Errorf("githost-serve: unknown mirror direction %q", args[1])
			}

			sc, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(sc.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := context.Background()
			bucket, err := openBucket(ctx, sc.BlobBucket)
			if err != nil {
				return err
			}
			cache, err := bloomCache(sc)
			if err != nil {
				return err
			}
			engine, err := openEngine(ctx, db, bucket, cache, sc.BlobBucket.KeyPrefix, repoID)
			if err != nil {
				return err
			}
			store := openObjectStore(engine, bucket, sc.BlobBucket.KeyPrefix, repoID)
			refs := clientside.RefStore{Store: refstoreOpen(db)}

			var creds *clientside.Credentials
			if token != "" {
				creds = &clientside.Credentials{Token: token}
			} else if username != "" {
				creds = &clientside.Credentials{Username: username, Password: password}
			}
			transport, err := clientside.New(remoteURL, creds, insecureTLS)
			if err != nil {
				return err
			}

			policy := clientside.ConflictFastForwardOnly
			if force {
				policy = clientside.ConflictForce
			}
			result, err := clientside.Mirror(ctx, transport, repoID, store, refs, dir, policy)
			if err != nil {
				return fmt.Errorf("githost-serve: mirror: %w", err)
			}
			logrus.Infof("mirror repo=%d dir=%s fetched=%d pushed=%d skipped=%d",
				repoID, dir, result.Pulled.Fetched, len(result.Pushed), len(result.Skipped))
			for _, skip := range result.Skipped {
				logrus.Warnf("mirror: skipped %s: %s", skip.Name, skip.Reason)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&repoID, "repo", 0, "local repository ID to mirror")
	cmd.Flags().StringVar(&username, "username", "", "Basic auth username for the remote endpoint")
	cmd.Flags().StringVar(&password, "password", "", "Basic auth password for the remote endpoint")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for the remote endpoint (overrides username/password)")
	cmd.Flags().BoolVar(&insecureTLS, "insecure-tls", false, "skip TLS certificate verification against the remote endpoint")
	cmd.Flags().BoolVar(&force, "force", false, "force-move refs that aren't a fast-forward instead of skipping them")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

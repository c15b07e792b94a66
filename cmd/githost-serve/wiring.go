// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-sql-driver/mysql"

	"github.com/antgroup/hugescm/internal/blobstore"
	"github.com/antgroup/hugescm/internal/config"
	"github.com/antgroup/hugescm/internal/objfmt"
	"github.com/antgroup/hugescm/internal/objstore"
	"github.com/antgroup/hugescm/internal/refstore"
	"github.com/antgroup/hugescm/internal/repohub"
	"github.com/antgroup/hugescm/internal/tablet"
	"github.com/antgroup/hugescm/internal/tablet/bloomcache"
)

// bloomCache builds the exact-membership cache every tablet.Engine and
// repohub.Hub front their reads through.
func bloomCache(sc *config.ServerConfig) (*bloomcache.Cache, error) {
	cache, err := bloomcache.New(sc.BloomCache())
	if err != nil {
		return nil, fmt.Errorf("githost-serve: new bloom cache: %w", err)
	}
	return cache, nil
}

// refstoreOpen opens the ref store directly against db, for the gc and
// mirror subcommands that operate on one repository at a time outside
// repohub.Hub's per-request Open path.
func refstoreOpen(db *sql.DB) *refstore.Store {
	return refstore.Open(db)
}

// collectRoots gathers every ref's current target for repoID — the mark
// phase's starting set for a gc run.
func collectRoots(ctx context.Context, db *sql.DB, repoID int64) ([]objfmt.Hash, error) {
	refs, err := refstore.Open(db).List(ctx, repoID, "refs/")
	if err != nil {
		return nil, fmt.Errorf("githost-serve: list refs for repo %d: %w", repoID, err)
	}
	roots := make([]objfmt.Hash, 0, len(refs))
	for _, ref := range refs {
		if ref.Kind == refstore.KindDirect && !ref.Hash.IsZero() {
			roots = append(roots, ref.Hash)
		}
	}
	return roots, nil
}

// bucketAdapter narrows blobstore.Bucket down to objstore.BlobBucket,
// the same Get-via-Open trick repohub.bucketAdapter plays, duplicated
// here since that adapter is unexported from its own package.
type bucketAdapter struct {
	blobstore.Bucket
}

func (b bucketAdapter) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.Open(ctx, key)
}

// openDatabase dials the MySQL-backed metadata store every ref row, WAL
// record, compaction journal entry, and user/permission row lives in,
// mirroring pkg/serve/database.NewDB's connector-plus-pool-tuning shape.
func openDatabase(dc *config.DatabaseConfig) (*sql.DB, error) {
	cfg := mysql.NewConfig()
	cfg.User = dc.User
	cfg.Passwd = dc.Passwd
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	cfg.DBName = dc.Name
	cfg.ParseTime = true
	if dc.Timeout.Duration > 0 {
		cfg.Timeout = dc.Timeout.Duration
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("githost-serve: new mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxIdleConns(25)
	db.SetMaxOpenConns(50)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// openBucket constructs the raw-blob backend bc.Backend selects ("s3" or
// "gcs"), behind the shared blobstore.Bucket interface.
func openBucket(ctx context.Context, bc *config.BlobBucketConfig) (blobstore.Bucket, error) {
	switch bc.Backend {
	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(bc.Region))
		if err != nil {
			return nil, fmt.Errorf("githost-serve: load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if bc.Endpoint != "" {
				o.BaseEndpoint = &bc.Endpoint
			}
		})
		return blobstore.NewS3Bucket(client, bc.Bucket), nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("githost-serve: new gcs client: %w", err)
		}
		return blobstore.NewGCSBucket(client, bc.Bucket), nil
	default:
		return nil, fmt.Errorf("githost-serve: unknown blob bucket backend %q", bc.Backend)
	}
}

// tabletFactory returns a repohub.TabletFactory opening one tablet.Engine
// per repository shard against db/bucket, keyed under keyPrefix the same
// way repohub.Hub derives every other per-repository key.
func tabletFactory(db *sql.DB, bucket blobstore.Bucket, cache *bloomcache.Cache, keyPrefix string) repohub.TabletFactory {
	return func(ctx context.Context, repoID int64) (repohub.Tablet, error) {
		prefix := keyPrefix + "/" + repohub.ShardPrefix(repoID) + "/tablet"
		return tablet.Open(ctx, db, bucket, cache, repoID, prefix)
	}
}

// openEngine opens a single repository's tablet.Engine directly,
// bypassing repohub.Hub — the gc/compact/mirror subcommands operate on
// one repository at a time and need the concrete engine (for
// EnumerateAll/Delete/Compact), not just the objstore.Tablet interface
// repohub.Hub narrows it down to.
func openEngine(ctx context.Context, db *sql.DB, bucket blobstore.Bucket, cache *bloomcache.Cache, keyPrefix string, repoID int64) (*tablet.Engine, error) {
	prefix := keyPrefix + "/" + repohub.ShardPrefix(repoID) + "/tablet"
	return tablet.Open(ctx, db, bucket, cache, repoID, prefix)
}

// openObjectStore builds the typed object.Store the gc/compact/mirror
// subcommands drive directly, the same construction repohub.Hub.Open
// performs per-request for the HTTP path.
func openObjectStore(engine *tablet.Engine, bucket blobstore.Bucket, keyPrefix string, repoID int64) *objstore.Store {
	prefix := keyPrefix + "/" + repohub.ShardPrefix(repoID)
	return objstore.New(engine, bucketAdapter{bucket}, func(h objfmt.Hash) string {
		return blobstore.RawKey(prefix, h.String())
	})
}

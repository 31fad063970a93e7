package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/worklist-harvester/internal/catalog"
	"github.com/JakeFAU/worklist-harvester/internal/clock/system"
	"github.com/JakeFAU/worklist-harvester/internal/config"
	collyfetcher "github.com/JakeFAU/worklist-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/worklist-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/worklist-harvester/internal/hash/sha256"
	"github.com/JakeFAU/worklist-harvester/internal/headless/detector"
	"github.com/JakeFAU/worklist-harvester/internal/id/uuid"
	"github.com/JakeFAU/worklist-harvester/internal/metrics"
	"github.com/JakeFAU/worklist-harvester/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/worklist-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/worklist-harvester/internal/runner"
	gcsstore "github.com/JakeFAU/worklist-harvester/internal/storage/gcs"
	"github.com/JakeFAU/worklist-harvester/internal/storage/local"
	"github.com/JakeFAU/worklist-harvester/internal/storage/postgres"
)

// archiveDir holds archived outputs under the output directory when no
// bucket is configured.
const archiveDir = "archive"

// harvestRunner is the part of *runner.Runner the commands use.
type harvestRunner interface {
	HarvestWorks(ctx context.Context, name string) (catalog.RunSummary, error)
	HarvestComposers(ctx context.Context) (catalog.RunSummary, error)
	Replay(ctx context.Context, rawName string, write bool) (catalog.RunSummary, []catalog.CanonicalRecord, error)
	RawFileName(name string) string
}

// services bundles everything a command needs.
type services struct {
	cfg     config.Config
	logger  *zap.Logger
	runner  harvestRunner
	ready   func(ctx context.Context) error
	closers []func()
}

// Close releases clients in reverse order of construction.
func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	_ = s.logger.Sync()
}

// newServices is the service factory. Tests replace it.
var newServices = buildServices

func buildServices(ctx context.Context, cfg config.Config, logger *zap.Logger) (*services, error) {
	metrics.Init()
	svc := &services{cfg: cfg, logger: logger}

	outputs, err := local.New(local.Config{BaseDir: cfg.Output.Dir})
	if err != nil {
		return nil, fmt.Errorf("init output dir: %w", err)
	}
	svc.ready = func(context.Context) error {
		return probeWritable(outputs.BaseDir())
	}

	deps := runner.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.HTTP.UserAgent,
			RespectRobots: cfg.HTTP.RespectRobots,
			Timeout:       cfg.FetchTimeout(),
		}),
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.HTTP.RequestsPerSecond,
			Burst: cfg.HTTP.Burst,
		}),
		Detector: detector.NewHeuristic(cfg.Headless.PromotionThresh, detector.DefaultContentSelector),
		Outputs:  outputs,
		Hasher:   sha256.New(),
		Clock:    system.New(),
		IDs:      uuid.New(),
		Logger:   logger,
	}

	if cfg.Headless.Enabled {
		hf, herr := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			WaitSelector:      cfg.Headless.WaitSelector,
		})
		if herr != nil {
			return nil, fmt.Errorf("init headless fetcher: %w", herr)
		}
		deps.Headless = hf
		svc.closers = append(svc.closers, hf.Close)
	}

	if err := svc.wireArchive(ctx, &deps, outputs); err != nil {
		svc.Close()
		return nil, err
	}
	if err := svc.wireRunStore(ctx, &deps); err != nil {
		svc.Close()
		return nil, err
	}
	if err := svc.wirePublisher(ctx, &deps); err != nil {
		svc.Close()
		return nil, err
	}

	r, err := runner.New(runner.Options{
		BaseURL:          cfg.Wiki.BaseURL,
		WikiPrefix:       cfg.Wiki.Prefix,
		ComposersURL:     cfg.ComposersURL(),
		RawPrefix:        cfg.Output.RawPrefix,
		CompositionsFile: cfg.Output.CompositionsFile,
		ComposersFile:    cfg.Output.ComposersFile,
		QueueCapacity:    cfg.Output.QueueCapacity,
		Topic:            cfg.PubSub.TopicName,
	}, deps)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("init runner: %w", err)
	}
	svc.runner = r
	return svc, nil
}

func (s *services) wireArchive(ctx context.Context, deps *runner.Deps, outputs *local.Store) error {
	if s.cfg.Storage.GCSBucket == "" {
		archive, err := local.New(local.Config{BaseDir: filepath.Join(outputs.BaseDir(), archiveDir)})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		deps.Archive = archive
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("init gcs client: %w", err)
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	archive, err := gcsstore.New(client, gcsstore.Config{
		Bucket: s.cfg.Storage.GCSBucket,
		Prefix: s.cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("init gcs archive: %w", err)
	}
	deps.Archive = archive
	return nil
}

func (s *services) wireRunStore(ctx context.Context, deps *runner.Deps) error {
	if s.cfg.DB.DSN == "" {
		s.logger.Info("run history disabled; no database DSN configured")
		return nil
	}
	store, err := postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:             s.cfg.DB.DSN,
		Table:           s.cfg.DB.Table,
		MaxConns:        s.cfg.DB.MaxConns,
		MinConns:        s.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(s.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("init run store: %w", err)
	}
	s.closers = append(s.closers, store.Close)
	deps.Runs = store
	return nil
}

func (s *services) wirePublisher(ctx context.Context, deps *runner.Deps) error {
	if s.cfg.PubSub.TopicName == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, s.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	s.closers = append(s.closers, func() {
		if cerr := pub.Close(); cerr != nil {
			s.logger.Warn("close publisher", zap.Error(cerr))
		}
	})
	deps.Publisher = pub
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ready-*")
	if err != nil {
		return fmt.Errorf("output dir not writable: %w", err)
	}
	name := f.Name()
	return errors.Join(f.Close(), os.Remove(name))
}

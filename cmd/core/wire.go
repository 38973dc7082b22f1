package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/event"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/postgres"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// stores 選定的儲存層與關閉時要釋放的資源
type stores struct {
	ledger     usecase.Store
	readModels usecase.ReadModelStore
	closers    []io.Closer
}

func (s *stores) Close(log *zap.Logger) {
	closeAll(log, "store", s.closers)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStores 依 store.driver 建立儲存層
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		var (
			w       *wal.WAL
			closers []io.Closer
		)
		if cfg.Store.WALPath != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Store.WALPath), 0o750); err != nil {
				return nil, fmt.Errorf("create wal dir: %w", err)
			}
			var opts []wal.Option
			if !cfg.Store.WALSync {
				opts = append(opts, wal.WithoutSync())
			}
			var err error
			if w, err = wal.Open(cfg.Store.WALPath, opts...); err != nil {
				return nil, fmt.Errorf("open wal: %w", err)
			}
			closers = append(closers, w)
		}
		store, err := memory_adapter.NewStore(w)
		if err != nil {
			closeAll(log, "store", closers)
			return nil, fmt.Errorf("recover memory store: %w", err)
		}
		log.Info("using memory store", zap.String("wal", cfg.Store.WALPath))
		return &stores{ledger: store, readModels: store, closers: closers}, nil

	case config.DriverMySQL:
		client, err := mysql.NewClient(ctx, cfg.Store.MySQL, log)
		if err != nil {
			return nil, err
		}
		store := mysql_adapter.NewStore(client)
		if err := store.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("migrate mysql: %w", err)
		}
		log.Info("using mysql store", zap.String("host", cfg.Store.MySQL.Host))
		return &stores{ledger: store, readModels: store, closers: []io.Closer{client}}, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Store.Postgres, log)
		if err != nil {
			return nil, err
		}
		store := postgres_adapter.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("using postgres store")
		return &stores{ledger: store, readModels: store, closers: []io.Closer{closerFunc(func() error {
			pool.Close()
			return nil
		})}}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// publishers 啟用的事件發佈器
type publishers struct {
	publisher usecase.EventPublisher
	closers   []io.Closer
}

func (p *publishers) Close(log *zap.Logger) {
	closeAll(log, "publisher", p.closers)
}

// openPublishers 依 events.publishers 組出事件發佈鏈
// log 發佈器永遠啟用，確保對帳相關警示一定留下紀錄
func openPublishers(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*publishers, error) {
	multi := event.Multi{event.NewLogPublisher(log)}
	var closers []io.Closer

	if cfg.Enabled(config.PublisherMetrics) {
		multi = append(multi, event.NewMetricsPublisher(reg))
	}

	if cfg.Enabled(config.PublisherRedis) {
		rc := cfg.Events.Redis
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    rc.Addrs,
			Password: rc.Password,
			DB:       rc.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis not reachable at startup, events will be retried per publish", zap.Error(err))
		}
		cancel()
		multi = append(multi, event.NewRedisPublisher(client, rc.Prefix))
		closers = append(closers, client)
	}

	if cfg.Enabled(config.PublisherKafka) {
		kp := event.NewKafkaPublisher(cfg.Events.Kafka, log)
		multi = append(multi, kp)
		closers = append(closers, kp)
	}

	if cfg.Enabled(config.PublisherAMQP) {
		ap, err := event.NewAMQPPublisher(cfg.Events.AMQP)
		if err != nil {
			closeAll(log, "publisher", closers)
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		multi = append(multi, ap)
		closers = append(closers, ap)
	}

	log.Info("event publishers ready", zap.Strings("publishers", cfg.Events.Publishers))
	return &publishers{publisher: multi, closers: closers}, nil
}

func closeAll(log *zap.Logger, kind string, closers []io.Closer) {
	var errs []error
	// 反向關閉
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn("failed to close "+kind, zap.Error(err))
	}
}

package data

import (
	"context"
	"fmt"

	"github.com/lk2023060901/relaydrive-backend/internal/conf"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/database"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/metrics"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/ratelimit"
	pkgredis "github.com/lk2023060901/relaydrive-backend/internal/pkg/redis"
	"github.com/lk2023060901/relaydrive-backend/internal/relay"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/models"
	"go.uber.org/zap"
)

// Data 基础设施句柄集合
type Data struct {
	DB      *database.DB
	Redis   *pkgredis.Client
	Relay   *relay.Client
	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// NewData 初始化数据层：数据库、Redis、中继客户端与指标注册表
func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	db, err := database.New(&database.Config{
		Host:     config.Database.Host,
		Port:     config.Database.Port,
		User:     config.Database.User,
		Password: config.Database.Password,
		DBName:   config.Database.DBName,
		SSLMode:  config.Database.SSLMode,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := models.AutoMigrate(context.Background(), db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate storage tables: %w", err)
	}

	redisClient, err := pkgredis.New(&pkgredis.Config{
		Host:     config.Redis.Host,
		Port:     config.Redis.Port,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init redis: %w", err)
	}

	m := metrics.New()

	// 每个凭证的中继调用共享同一个间隔限流器
	limiter := ratelimit.New(config.Relay.MinCallInterval)

	relayClient, err := relay.New(&relay.Config{
		BaseURL: config.Relay.BaseURL,
		Timeout: config.Relay.Timeout,
	}, limiter, m, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init relay client: %w", err)
	}

	d := &Data{
		DB:      db,
		Redis:   redisClient,
		Relay:   relayClient,
		Metrics: m,
		Logger:  log,
	}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if err := db.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis", zap.Error(err))
		}
	}

	return d, cleanup, nil
}

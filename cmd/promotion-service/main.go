// cmd/promotion-service/main.go
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"mall/internal/pkg/bootstrap"
	"mall/internal/pkg/httpclient"
	"mall/internal/pkg/logger"
	"mall/internal/pkg/redis"
	"mall/internal/service/promotion/application"
	"mall/internal/service/promotion/infrastructure"
	"mall/internal/service/promotion/interfaces"
	"mall/internal/zookeeper"
)

const (
	serviceName = "promotion-service"
	servicePort = 8087
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)

	cfg := bootstrap.GetCurrentConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// 1. 权威台账 (MySQL)
	// TranslateError 让唯一键冲突等错误变成 gorm 的可判别错误
	db, err := gorm.Open(mysql.Open(cfg.Infra.Mysql.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("FATAL: failed to connect to mysql: %v", err)
	}

	// 2. 快速库存计数器 (Redis)
	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to redis: %v", err)
	}
	stockCache, err := infrastructure.NewRedisStockAdapter(redisClient)
	if err != nil {
		log.Fatalf("FATAL: failed to init stock cache adapter: %v", err)
	}

	// 3. 仓储
	promoRepo := infrastructure.NewGormPromotionRepository(db)
	skuRepo := infrastructure.NewGormSkuRepository(db)
	logRepo := infrastructure.NewGormDeductionLogRepository(db)
	quotaRepo := infrastructure.NewGormQuotaRepository(db)

	// 4. 对账领导者锁 (ZooKeeper)，未配置时退化为无锁（单实例部署）
	var resyncLocker application.Locker
	var zkConn *zookeeper.Conn
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		zkConn, err = zookeeper.Connect(cfg.Infra.Zookeeper.Servers)
		if err != nil {
			log.Fatalf("FATAL: failed to connect to zookeeper: %v", err)
		}
		resyncLocker = zookeeper.NewDistributedLock(zkConn, "flash-sale-resync")
	}

	// 5. Kafka：取消事件消费者 + 死信生产者
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Infra.Kafka.Brokers,
		GroupID: cfg.Infra.Kafka.ConsumerGroup,
		Topic:   cfg.Infra.Kafka.OrderCancelTopic,
	})
	dlqWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Infra.Kafka.Brokers...),
		Topic:    cfg.Infra.Kafka.DLQTopic,
		Balancer: &kafka.LeastBytes{},
	}
	dlq := infrastructure.NewDLQProducer(dlqWriter, cfg.Infra.Kafka.OrderCancelTopic)

	tracer := otel.Tracer(serviceName)
	bgCtx, cancelBg := context.WithCancel(context.Background())

	// RegisterHandlers 在服务启动前执行，OnShutdown 在收到退出信号后执行，
	// 所以这两个变量不会有并发读写。
	var reconciler *application.Reconciler
	var consumer *infrastructure.StockReleaseConsumer

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			// 商品目录协作方走 Nacos 服务发现，所以要等 Nacos 客户端就绪才能组装
			catalog := infrastructure.NewCatalogHTTPAdapter(
				httpclient.NewClient(tracer, appCtx.Nacos))

			stockSvc := application.NewStockService(
				promoRepo, skuRepo, logRepo, quotaRepo, stockCache, catalog, tracer)

			// 启动预热：同步等它跑完会拖慢启动，后台执行即可（尽力而为）
			warmer := application.NewWarmer(promoRepo, skuRepo, stockSvc)
			go warmer.WarmUp(bgCtx)

			reconciler = application.NewReconciler(
				stockCache, stockSvc, resyncLocker,
				cfg.FlashSale.ReconcileInterval, cfg.FlashSale.ReconcileInitialDelay)
			reconciler.Start(bgCtx)

			consumer = infrastructure.NewStockReleaseConsumer(reader, stockSvc, dlq)
			consumer.Start(bgCtx)

			handler := interfaces.NewFlashSaleHandler(stockSvc)
			handler.RegisterRoutes(appCtx.Mux)
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			// 关停顺序：先停入口消费，再停调度器，最后断连接
			cancelBg()
			if consumer != nil {
				consumer.Stop()
			}
			if reconciler != nil {
				reconciler.Stop()
			}
			if err := dlqWriter.Close(); err != nil {
				log.Printf("Error closing DLQ writer: %v", err)
			}
			if zkConn != nil {
				zkConn.Close()
			}
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing redis client: %v", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				if err := sqlDB.Close(); err != nil {
					log.Printf("Error closing mysql pool: %v", err)
				}
			}
		},
	})
}

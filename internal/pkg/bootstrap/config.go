package bootstrap

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是整个服务的配置根。来源优先级：环境变量 > YAML > 默认值。
type Config struct {
	Infra struct {
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers          []string `yaml:"brokers"`
			OrderCancelTopic string   `yaml:"order_cancel_topic"`
			DLQTopic         string   `yaml:"dlq_topic"`
			ConsumerGroup    string   `yaml:"consumer_group"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			ServerAddrs string `yaml:"server_addrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	FlashSale FlashSaleConfig `yaml:"flash_sale"`
}

// FlashSaleConfig 是库存核心自己的调优项。
type FlashSaleConfig struct {
	// 对账器的运行间隔与首跑延迟。
	ReconcileInterval     time.Duration
	ReconcileInitialDelay time.Duration
}

// UnmarshalYAML 支持 "30s" 这样的时长写法；yaml 默认只认纳秒整数。
// 字段缺失时保留已有值（即默认值）。
func (c *FlashSaleConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ReconcileInterval     string `yaml:"reconcile_interval"`
		ReconcileInitialDelay string `yaml:"reconcile_initial_delay"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.ReconcileInterval != "" {
		d, err := time.ParseDuration(raw.ReconcileInterval)
		if err != nil {
			return fmt.Errorf("invalid reconcile_interval: %w", err)
		}
		c.ReconcileInterval = d
	}
	if raw.ReconcileInitialDelay != "" {
		d, err := time.ParseDuration(raw.ReconcileInitialDelay)
		if err != nil {
			return fmt.Errorf("invalid reconcile_initial_delay: %w", err)
		}
		c.ReconcileInitialDelay = d
	}
	return nil
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置，应在 main 的最开始调用。
// 配置文件路径取 CONFIG_PATH，默认 configs/config.yaml；文件缺失时仅用默认值+环境变量。
func Init() {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "configs/config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("FATAL: invalid config file %s: %v", path, err)
		}
	} else {
		log.Printf("config file %s not found, falling back to env/defaults", path)
	}

	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前配置。Init 之前调用会得到默认值。
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/mall?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.OrderCancelTopic = "order.cancelled"
	cfg.Infra.Kafka.DLQTopic = "order.cancelled.dlq"
	cfg.Infra.Kafka.ConsumerGroup = "promotion-stock-release"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.FlashSale.ReconcileInterval = 5 * time.Minute
	cfg.FlashSale.ReconcileInitialDelay = time.Minute
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", cfg.Infra.Mysql.DSN)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if servers := os.Getenv("ZK_SERVERS"); servers != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(servers, ",")
	}
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
}

// getEnv 从环境变量中读取配置，缺失时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Validate 做最基本的配置完整性检查。
func (c *Config) Validate() error {
	if c.Infra.Mysql.DSN == "" {
		return fmt.Errorf("mysql dsn is required")
	}
	if c.Infra.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if len(c.Infra.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	return nil
}

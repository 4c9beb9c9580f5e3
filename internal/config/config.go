package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listenAddr"`

	// 后端服务地址：HTTP 接口与 STOMP over WebSocket 端点
	APIBaseURL string `yaml:"apiBaseURL"`
	WSURL      string `yaml:"wsURL"`
	Token      string `yaml:"token"` // Bearer token，登录后由外部注入

	// 连接参数
	ReconnectDelay time.Duration `yaml:"reconnectDelay"` // 断线后固定重连间隔
	HeartbeatOut   time.Duration `yaml:"heartbeatOut"`
	HeartbeatIn    time.Duration `yaml:"heartbeatIn"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`

	// 列表同步参数
	PageSize              int `yaml:"pageSize"`
	EventQueueSize        int `yaml:"eventQueueSize"`
	NotificationQueueSize int `yaml:"notificationQueueSize"`
	ViewHistoryMinSeconds int `yaml:"viewHistoryMinSeconds"`

	// 日志
	LogEnv   string `yaml:"logEnv"` // production / development
	LogLevel string `yaml:"logLevel"`

	// 指标开关
	EnableMetrics bool `yaml:"enableMetrics"`

	// 速率限制（发送消息）
	SendQPS   int `yaml:"sendQPS"`
	SendBurst int `yaml:"sendBurst"`

	// 投影输出（均可选，留空即关闭）
	RedisAddr string `yaml:"redisAddr"`
	RedisDB   int    `yaml:"redisDB"`
	RedisPass string `yaml:"redisPass"`
	MySQLDSN  string `yaml:"mysqlDSN"`
	MongoURI  string `yaml:"mongoURI"`

	// Kafka / NATS 事件总线（可选）
	KafkaBrokers         string `yaml:"kafkaBrokers"` // 逗号分隔
	KafkaProjectionTopic string `yaml:"kafkaProjectionTopic"`
	KafkaGroupID         string `yaml:"kafkaGroupID"`
	NATSURL              string `yaml:"natsURL"`
	NATSSubject          string `yaml:"natsSubject"`
}

var (
	errNoAPIBaseURL   = errors.New("config: apiBaseURL is required")
	errNoWSURL        = errors.New("config: wsURL is required")
	errPageSize       = errors.New("config: pageSize must be >= 1")
	errReconnectDelay = errors.New("config: reconnectDelay must be > 0")
	errSendQPS        = errors.New("config: sendQPS must be > 0")
)

func Load() *Config {
	// 1) 默认值
	cfg := &Config{
		ListenAddr: "127.0.0.1:8090",
		APIBaseURL: "http://127.0.0.1:8080",
		WSURL:      "ws://127.0.0.1:8080/ws-stomp/websocket",

		ReconnectDelay: 5 * time.Second,
		HeartbeatOut:   10 * time.Second,
		HeartbeatIn:    10 * time.Second,
		HTTPTimeout:    10 * time.Second,

		PageSize:              30,
		EventQueueSize:        1024,
		NotificationQueueSize: 200,
		ViewHistoryMinSeconds: 1,

		LogEnv:        "production",
		LogLevel:      "info",
		EnableMetrics: true,

		SendQPS:   5,
		SendBurst: 10,

		KafkaProjectionTopic: "imsync-projection",
		KafkaGroupID:         "imsync-projection-consumer",
		NATSSubject:          "imsync.projection",
	}

	// 2) YAML 覆盖（如果有）
	configPath := getEnv("IMSYNC_CONFIG_FILE", getEnv("CONFIG_FILE", "config.yml"))
	if st, err := os.Stat(configPath); err == nil && !st.IsDir() {
		if data, err2 := os.ReadFile(configPath); err2 == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	// 3) 环境变量覆盖 YAML
	applyEnv(cfg)
	return cfg
}

// Validate 校验启动所必需的配置项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return errNoAPIBaseURL
	}
	if strings.TrimSpace(c.WSURL) == "" {
		return errNoWSURL
	}
	if c.PageSize < 1 {
		return errPageSize
	}
	if c.ReconnectDelay <= 0 {
		return errReconnectDelay
	}
	if c.SendQPS <= 0 {
		return errSendQPS
	}
	if c.SendBurst < c.SendQPS {
		c.SendBurst = c.SendQPS
	}
	return nil
}

// KafkaBrokerList 解析逗号分隔的 broker 列表
func (c *Config) KafkaBrokerList() []string {
	return parseList(c.KafkaBrokers)
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			*dst = (v == "true" || v == "1" || v == "yes")
		}
	}
	setDur := func(env string, dst *time.Duration) {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setStr("IMSYNC_LISTEN_ADDR", &cfg.ListenAddr)
	setStr("IMSYNC_API_BASE_URL", &cfg.APIBaseURL)
	setStr("IMSYNC_WS_URL", &cfg.WSURL)
	setStr("IMSYNC_TOKEN", &cfg.Token)

	setDur("IMSYNC_RECONNECT_DELAY", &cfg.ReconnectDelay)
	setDur("IMSYNC_HEARTBEAT_OUT", &cfg.HeartbeatOut)
	setDur("IMSYNC_HEARTBEAT_IN", &cfg.HeartbeatIn)
	setDur("IMSYNC_HTTP_TIMEOUT", &cfg.HTTPTimeout)

	setInt("IMSYNC_PAGE_SIZE", &cfg.PageSize)
	setInt("IMSYNC_EVENT_QUEUE_SIZE", &cfg.EventQueueSize)
	setInt("IMSYNC_NOTIFICATION_QUEUE_SIZE", &cfg.NotificationQueueSize)
	setInt("IMSYNC_VIEW_HISTORY_MIN_SECONDS", &cfg.ViewHistoryMinSeconds)

	setStr("IMSYNC_LOG_ENV", &cfg.LogEnv)
	setStr("IMSYNC_LOG_LEVEL", &cfg.LogLevel)
	setBool("IMSYNC_ENABLE_METRICS", &cfg.EnableMetrics)

	setInt("IMSYNC_SEND_QPS", &cfg.SendQPS)
	setInt("IMSYNC_SEND_BURST", &cfg.SendBurst)

	setStr("IMSYNC_REDIS_ADDR", &cfg.RedisAddr)
	setStr("IMSYNC_REDIS_PASS", &cfg.RedisPass)
	setInt("IMSYNC_REDIS_DB", &cfg.RedisDB)
	setStr("IMSYNC_MYSQL_DSN", &cfg.MySQLDSN)
	setStr("IMSYNC_MONGO_URI", &cfg.MongoURI)

	setStr("IMSYNC_KAFKA_BROKERS", &cfg.KafkaBrokers)
	setStr("IMSYNC_KAFKA_PROJECTION_TOPIC", &cfg.KafkaProjectionTopic)
	setStr("IMSYNC_KAFKA_GROUP_ID", &cfg.KafkaGroupID)
	setStr("IMSYNC_NATS_URL", &cfg.NATSURL)
	setStr("IMSYNC_NATS_SUBJECT", &cfg.NATSSubject)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// 解析逗号分隔列表，去掉空白项
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Log       LogConfig       `mapstructure:"log"`
	Lock      LockConfig      `mapstructure:"lock"`
	Promotion PromotionConfig `mapstructure:"promotion"`
	Access    AccessConfig    `mapstructure:"access"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Path         string `mapstructure:"path"` // sqlite 文件路径
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

type LockConfig struct {
	Backend       string        `mapstructure:"backend"` // local, redis
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

type PromotionConfig struct {
	PurchaseDedupWindow time.Duration `mapstructure:"purchase_dedup_window"` // 无请求号时的去重时间桶
	MaxScheduleAhead    time.Duration `mapstructure:"max_schedule_ahead"`    // 最远可预约的开始时间
	PackageCacheTTL     time.Duration `mapstructure:"package_cache_ttl"`
	PackageCacheSize    int           `mapstructure:"package_cache_size"`
}

type AccessConfig struct {
	ManagerRoles  []string `mapstructure:"manager_roles"`  // 可操作本组织推广的角色
	ElevatedRoles []string `mapstructure:"elevated_roles"` // 可操作任意组织的角色
}

type SchedulerConfig struct {
	ActivateSpec string `mapstructure:"activate_spec"`
	ExpireSpec   string `mapstructure:"expire_spec"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults 填充未配置项的默认值
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = "local"
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 10 * time.Second
	}
	if c.Lock.RetryInterval <= 0 {
		c.Lock.RetryInterval = 25 * time.Millisecond
	}
	if c.Promotion.PurchaseDedupWindow <= 0 {
		c.Promotion.PurchaseDedupWindow = time.Minute
	}
	if c.Promotion.MaxScheduleAhead <= 0 {
		c.Promotion.MaxScheduleAhead = 90 * 24 * time.Hour
	}
	if c.Promotion.PackageCacheTTL <= 0 {
		c.Promotion.PackageCacheTTL = 30 * time.Second
	}
	if c.Promotion.PackageCacheSize <= 0 {
		c.Promotion.PackageCacheSize = 16
	}
	if len(c.Access.ManagerRoles) == 0 {
		c.Access.ManagerRoles = []string{"sponsor"}
	}
	if len(c.Access.ElevatedRoles) == 0 {
		c.Access.ElevatedRoles = []string{"admin", "moderator"}
	}
	if c.Scheduler.ActivateSpec == "" {
		c.Scheduler.ActivateSpec = "0 * * * * *"
	}
	if c.Scheduler.ExpireSpec == "" {
		c.Scheduler.ExpireSpec = "30 * * * * *"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "promo_credit"
	}
}

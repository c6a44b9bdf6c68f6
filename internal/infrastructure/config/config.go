package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "configs/gateway.yaml"

// Config 是网关配置的结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Zinx     ZinxConfig     `mapstructure:"zinx"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig 三个监听地址
type ServerConfig struct {
	DeviceAddress  string `mapstructure:"deviceAddress"`  // 终端接入
	HTTPAddress    string `mapstructure:"httpAddress"`    // HTTP 指令下发
	ForwardAddress string `mapstructure:"forwardAddress"` // 转发方接入
}

// ZinxConfig Zinx框架配置
type ZinxConfig struct {
	Name             string `mapstructure:"name"`
	Version          string `mapstructure:"version"`
	MaxConn          int    `mapstructure:"maxConn"`
	WorkerPoolSize   int    `mapstructure:"workerPoolSize"`
	MaxWorkerTaskLen int    `mapstructure:"maxWorkerTaskLen"`
	MaxPacketSize    uint32 `mapstructure:"maxPacketSize"`
}

// ProtocolConfig 协议处理参数
type ProtocolConfig struct {
	MaxFrameLength        int    `mapstructure:"maxFrameLength"`
	MaxBodyLength         int    `mapstructure:"maxBodyLength"`
	IdleTimeoutSeconds    int    `mapstructure:"idleTimeoutSeconds"`
	CommandTimeoutSeconds int    `mapstructure:"commandTimeoutSeconds"`
	WriteTimeoutSeconds   int    `mapstructure:"writeTimeoutSeconds"`
	AuthCode              string `mapstructure:"authCode"`
}

// RedisConfig Redis配置，地址为空时不启用在线状态同步
type RedisConfig struct {
	Address            string `mapstructure:"address"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	PoolSize           int    `mapstructure:"poolSize"`
	MinIdleConns       int    `mapstructure:"minIdleConns"`
	DialTimeoutSeconds int    `mapstructure:"dialTimeoutSeconds"`
	KeyPrefix          string `mapstructure:"keyPrefix"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	EnableConsole bool   `mapstructure:"enableConsole"`
	EnableFile    bool   `mapstructure:"enableFile"`
	FileDir       string `mapstructure:"fileDir"`
	FilePrefix    string `mapstructure:"filePrefix"`
	MaxSizeMB     int    `mapstructure:"maxSizeMB"`
	MaxBackups    int    `mapstructure:"maxBackups"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays"`
	Compress      bool   `mapstructure:"compress"`
	LogHexDump    bool   `mapstructure:"logHexDump"`
}

// 全局配置实例
var GlobalConfig Config

// setDefaults 默认配置，首次启动时据此生成配置文件
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.deviceAddress", "127.0.0.1:20888")
	v.SetDefault("server.httpAddress", "127.0.0.1:20889")
	v.SetDefault("server.forwardAddress", "127.0.0.1:20890")

	v.SetDefault("zinx.name", "jt808-gateway")
	v.SetDefault("zinx.version", "V1.0")
	v.SetDefault("zinx.maxConn", 10000)
	v.SetDefault("zinx.workerPoolSize", 16)
	v.SetDefault("zinx.maxWorkerTaskLen", 1024)
	v.SetDefault("zinx.maxPacketSize", 4096)

	v.SetDefault("protocol.maxFrameLength", 1024)
	v.SetDefault("protocol.maxBodyLength", 1023)
	v.SetDefault("protocol.idleTimeoutSeconds", 60)
	v.SetDefault("protocol.commandTimeoutSeconds", 5)
	v.SetDefault("protocol.writeTimeoutSeconds", 10)
	v.SetDefault("protocol.authCode", "9090980")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeoutSeconds", 5)
	v.SetDefault("redis.keyPrefix", "jt808:")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.enableConsole", true)
	v.SetDefault("logger.enableFile", false)
	v.SetDefault("logger.fileDir", "logs")
	v.SetDefault("logger.filePrefix", "gateway")
	v.SetDefault("logger.maxSizeMB", 100)
	v.SetDefault("logger.maxBackups", 10)
	v.SetDefault("logger.maxAgeDays", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.logHexDump", false)
}

// Load 加载配置文件，文件不存在时按默认值创建
func Load(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JT808")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if dir := filepath.Dir(configPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
		}
		if err := v.SafeWriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// DefaultConfig 返回全部取默认值的配置
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	return &GlobalConfig
}

// Validate 校验配置
func (c *Config) Validate() error {
	for name, addr := range map[string]string{
		"server.deviceAddress":  c.Server.DeviceAddress,
		"server.httpAddress":    c.Server.HTTPAddress,
		"server.forwardAddress": c.Server.ForwardAddress,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, addr, err)
		}
	}
	if c.Protocol.MaxBodyLength <= 0 || c.Protocol.MaxBodyLength > 1023 {
		return fmt.Errorf("protocol.maxBodyLength must be in 1..1023, got %d", c.Protocol.MaxBodyLength)
	}
	if c.Protocol.MaxFrameLength < 16 {
		return fmt.Errorf("protocol.maxFrameLength too small: %d", c.Protocol.MaxFrameLength)
	}
	if c.Protocol.IdleTimeoutSeconds <= 0 || c.Protocol.CommandTimeoutSeconds <= 0 {
		return fmt.Errorf("protocol timeouts must be positive")
	}
	return nil
}

// IdleTimeout 终端空闲超时
func (p ProtocolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSeconds) * time.Second
}

// CommandTimeout 平台指令等待应答超时
func (p ProtocolConfig) CommandTimeout() time.Duration {
	return time.Duration(p.CommandTimeoutSeconds) * time.Second
}

// WriteTimeout 写超时
func (p ProtocolConfig) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutSeconds) * time.Second
}

// SplitAddress 拆分 host:port，端口转为整数
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}

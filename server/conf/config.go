package conf

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/zhukovaskychina/xmysql-myisam/logger"

	"gopkg.in/ini.v1"
)

/*
[myisam]
key_block_size          = 1024
max_key_file_length     = 0
sort_buffer_size        = 8388608
sort_slot_length        = 0
bulk_insert_buffer_size = 8388608
tmpdir                  = /tmp
sort_run_compression    = snappy
repair_threads          = 1

[logs]
log_error = /var/log/mysql/error.log
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// myisam
	KeyBlockSize         int    `default:"1024" yaml:"key_block_size" json:"key_block_size,omitempty"`
	MaxKeyFileLength     int64  `default:"0" yaml:"max_key_file_length" json:"max_key_file_length,omitempty"`
	SortBufferSize       int    `default:"8388608" yaml:"sort_buffer_size" json:"sort_buffer_size,omitempty"`
	SortKeys             int    `default:"0" yaml:"sort_keys" json:"sort_keys,omitempty"`
	SortSlotLength       int    `default:"0" yaml:"sort_slot_length" json:"sort_slot_length,omitempty"`
	BulkInsertBufferSize int    `default:"8388608" yaml:"bulk_insert_buffer_size" json:"bulk_insert_buffer_size,omitempty"`
	KeyCacheSize         int64  `default:"0" yaml:"key_cache_size" json:"key_cache_size,omitempty"`
	TmpDir               string `default:"" yaml:"tmpdir" json:"tmpdir,omitempty"`
	SortRunCompression   string `default:"none" yaml:"sort_run_compression" json:"sort_run_compression,omitempty"`
	RepairThreads        int    `default:"1" yaml:"repair_threads" json:"repair_threads,omitempty"`
	MergeFanIn           int    `default:"15" yaml:"merge_fan_in" json:"merge_fan_in,omitempty"`
	MergeLimit           int    `default:"31" yaml:"merge_limit" json:"merge_limit,omitempty"`

	// logs
	LogError      string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos      string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel      string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
	LogMaxSize    int    `default:"100" yaml:"log_max_size" json:"log_max_size,omitempty"`
	LogMaxBackups int    `default:"3" yaml:"log_max_backups" json:"log_max_backups,omitempty"`
}

// NewCfg 返回默认配置
func NewCfg() *Cfg {
	return &Cfg{
		Raw:                  ini.Empty(),
		KeyBlockSize:         1024,
		SortBufferSize:       8 << 20, // 8MB
		BulkInsertBufferSize: 8 << 20,
		SortRunCompression:   "none",
		RepairThreads:        1,
		MergeFanIn:           15,
		MergeLimit:           31,
		LogLevel:             "info",
		LogMaxSize:           100,
		LogMaxBackups:        3,
	}
}

// Load 按扩展名加载 ini 或 toml 配置文件, 文件不存在时保留默认值
func (cfg *Cfg) Load(path string) (*Cfg, error) {
	if path == "" {
		return cfg, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := cfg.loadToml(path); err != nil {
			return nil, err
		}
		return cfg, cfg.validate()
	}

	iniFile, err := loadConfiguration(path)
	if err != nil {
		return nil, err
	}
	cfg.Raw = iniFile
	cfg.parseMyisamCfg(cfg.Raw.Section("myisam"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg, cfg.validate()
}

func loadConfiguration(path string) (*ini.File, error) {
	parsedFile, err := ini.Load(path)
	if err != nil {
		logger.Warnf("加载配置文件 %s 失败, 使用默认配置: %v", path, err)
		return ini.Empty(), nil
	}
	return parsedFile, nil
}

func (cfg *Cfg) parseMyisamCfg(section *ini.Section) *Cfg {
	cfg.KeyBlockSize = section.Key("key_block_size").MustInt(cfg.KeyBlockSize)
	cfg.MaxKeyFileLength = section.Key("max_key_file_length").MustInt64(cfg.MaxKeyFileLength)
	cfg.SortBufferSize = section.Key("sort_buffer_size").MustInt(cfg.SortBufferSize)
	cfg.SortKeys = section.Key("sort_keys").MustInt(cfg.SortKeys)
	cfg.SortSlotLength = section.Key("sort_slot_length").MustInt(cfg.SortSlotLength)
	cfg.BulkInsertBufferSize = section.Key("bulk_insert_buffer_size").MustInt(cfg.BulkInsertBufferSize)
	cfg.KeyCacheSize = section.Key("key_cache_size").MustInt64(cfg.KeyCacheSize)
	cfg.TmpDir = valueAsString(section, "tmpdir", cfg.TmpDir)
	cfg.SortRunCompression = strings.ToLower(valueAsString(section, "sort_run_compression", cfg.SortRunCompression))
	cfg.RepairThreads = section.Key("repair_threads").MustInt(cfg.RepairThreads)
	cfg.MergeFanIn = section.Key("merge_fan_in").MustInt(cfg.MergeFanIn)
	cfg.MergeLimit = section.Key("merge_limit").MustInt(cfg.MergeLimit)
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel = valueAsString(section, "log_level", cfg.LogLevel)
	cfg.LogMaxSize = section.Key("log_max_size").MustInt(cfg.LogMaxSize)
	cfg.LogMaxBackups = section.Key("log_max_backups").MustInt(cfg.LogMaxBackups)
	return cfg
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if !section.HasKey(keyName) {
		return defaultValue
	}
	value := strings.TrimSpace(section.Key(keyName).String())
	if value == "" {
		return defaultValue
	}
	return value
}

// loadToml toml 文件使用相同的 section/key 命名
func (cfg *Cfg) loadToml(path string) error {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	intOf := func(key string, def int64) int64 {
		switch v := tree.Get(key).(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		default:
			return def
		}
	}
	strOf := func(key string, def string) string {
		if v, ok := tree.Get(key).(string); ok && v != "" {
			return v
		}
		return def
	}

	cfg.KeyBlockSize = int(intOf("myisam.key_block_size", int64(cfg.KeyBlockSize)))
	cfg.MaxKeyFileLength = intOf("myisam.max_key_file_length", cfg.MaxKeyFileLength)
	cfg.SortBufferSize = int(intOf("myisam.sort_buffer_size", int64(cfg.SortBufferSize)))
	cfg.SortKeys = int(intOf("myisam.sort_keys", int64(cfg.SortKeys)))
	cfg.SortSlotLength = int(intOf("myisam.sort_slot_length", int64(cfg.SortSlotLength)))
	cfg.BulkInsertBufferSize = int(intOf("myisam.bulk_insert_buffer_size", int64(cfg.BulkInsertBufferSize)))
	cfg.KeyCacheSize = intOf("myisam.key_cache_size", cfg.KeyCacheSize)
	cfg.TmpDir = strOf("myisam.tmpdir", cfg.TmpDir)
	cfg.SortRunCompression = strings.ToLower(strOf("myisam.sort_run_compression", cfg.SortRunCompression))
	cfg.RepairThreads = int(intOf("myisam.repair_threads", int64(cfg.RepairThreads)))
	cfg.MergeFanIn = int(intOf("myisam.merge_fan_in", int64(cfg.MergeFanIn)))
	cfg.MergeLimit = int(intOf("myisam.merge_limit", int64(cfg.MergeLimit)))

	cfg.LogError = strOf("logs.log_error", cfg.LogError)
	cfg.LogInfos = strOf("logs.log_infos", cfg.LogInfos)
	cfg.LogLevel = strOf("logs.log_level", cfg.LogLevel)
	cfg.LogMaxSize = int(intOf("logs.log_max_size", int64(cfg.LogMaxSize)))
	cfg.LogMaxBackups = int(intOf("logs.log_max_backups", int64(cfg.LogMaxBackups)))
	return nil
}

func (cfg *Cfg) validate() error {
	if cfg.KeyBlockSize < 1024 || cfg.KeyBlockSize > 16384 || cfg.KeyBlockSize&(cfg.KeyBlockSize-1) != 0 {
		return fmt.Errorf("key_block_size %d must be a power of two in [1024, 16384]", cfg.KeyBlockSize)
	}
	switch cfg.SortRunCompression {
	case "", "none", "snappy", "lz4":
	default:
		return fmt.Errorf("unknown sort_run_compression %q", cfg.SortRunCompression)
	}
	if cfg.SortSlotLength < 0 {
		return fmt.Errorf("sort_slot_length %d must not be negative", cfg.SortSlotLength)
	}
	if cfg.RepairThreads < 1 {
		cfg.RepairThreads = 1
	}
	if cfg.MergeFanIn < 2 {
		return fmt.Errorf("merge_fan_in %d must be at least 2", cfg.MergeFanIn)
	}
	if cfg.MergeLimit < cfg.MergeFanIn {
		return fmt.Errorf("merge_limit %d must not be below merge_fan_in %d", cfg.MergeLimit, cfg.MergeFanIn)
	}
	return nil
}

// LogConfig 转换为日志配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
		MaxSizeMB:    cfg.LogMaxSize,
		MaxBackups:   cfg.LogMaxBackups,
	}
}

// GetString 以 "section.key" 读取原始 ini 值
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 || cfg.Raw == nil {
		return ""
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).String()
}

// GetInt 以 "section.key" 读取原始 ini 整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 || cfg.Raw == nil {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).MustInt(0)
}

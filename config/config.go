package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/autoflow/autoflow/pkg/logger"
)

type Config struct {
	Debug    bool                 `json:"debug" yaml:"debug" toml:"debug"`
	Server   *ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Database *DatabaseConfig      `json:"database" yaml:"database" toml:"database"`
	Browser  *BrowserConfig       `json:"browser" yaml:"browser" toml:"browser"`
	Log      *logger.LoggerConfig `json:"log,omitempty" yaml:"log,omitempty" toml:"log,omitempty"`
}

type ServerConfig struct {
	Port string `json:"port" toml:"port"`
	Host string `json:"host" toml:"host"`
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

type BrowserConfig struct {
	BinPath     string   `json:"bin_path" toml:"bin_path"`
	UserDataDir string   `json:"user_data_dir" toml:"user_data_dir"`
	ControlURL  string   `json:"control_url,omitempty" toml:"control_url,omitempty"` // 非空时连接远程 Chrome
	Headless    *bool    `json:"headless,omitempty" toml:"headless,omitempty"`       // 缺省按运行环境自动判断
	Stealth     *bool    `json:"stealth,omitempty" toml:"stealth,omitempty"`         // 缺省开启
	Proxy       string   `json:"proxy,omitempty" toml:"proxy,omitempty"`
	LaunchArgs  []string `json:"launch_args,omitempty" toml:"launch_args,omitempty"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		browserCfg := &BrowserConfig{}
		// 根据系统设置默认的 binpath
		chromeBinPath := ""
		if envPath := os.Getenv("CHROME_BIN_PATH"); envPath != "" {
			chromeBinPath = envPath
		} else {
			// 常见的 Chrome/Chromium 安装路径
			commonPaths := []string{
				"/usr/bin/google-chrome",
				"/usr/bin/chromium-browser",
				"/usr/bin/chromium",
				"/usr/bin/google-chrome-stable",
				"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
				"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
				"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
			}
			for _, p := range commonPaths {
				if _, err := os.Stat(p); err == nil {
					chromeBinPath = p
					break
				}
			}
		}
		browserCfg.BinPath = chromeBinPath
		browserCfg.UserDataDir = "./chrome_user_data"
		// 如果本地不存在 data 和 log 目录，则创建
		_, err := os.Stat("./data")
		if os.IsNotExist(err) {
			os.Mkdir("./data", 0o755)
		}
		_, err = os.Stat("./log")
		if os.IsNotExist(err) {
			os.Mkdir("./log", 0o755)
		}
		// 返回默认配置
		defConfig := &Config{
			Server: &ServerConfig{
				Port: "8080",
				Host: "0.0.0.0",
			},
			Database: &DatabaseConfig{
				Path: "./data/autoflow.db",
			},
			Browser: browserCfg,
			Log: &logger.LoggerConfig{
				Level: "info",
				File:  "./log/autoflow.log",
			},
		}
		// 如果错误是文件不存在，则将defConfig写到本地的path位置
		if os.IsNotExist(err) {
			cfgData, err := toml.Marshal(defConfig)
			if err == nil {
				os.WriteFile(path, cfgData, 0o644)
			}
		}
		return defConfig, nil
	}

	var cfg Config
	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	// 确保所有必需的配置项都有值
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{Port: "8080", Host: "0.0.0.0"}
	}
	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{Path: "./data/autoflow.db"}
	}
	if cfg.Browser == nil {
		cfg.Browser = &BrowserConfig{}
	}
	if cfg.Log == nil {
		cfg.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		}
	}

	return &cfg, nil
}

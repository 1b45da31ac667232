package config

import (
	"embed"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed embedded/*
var EmbededConfigs embed.FS

const defaultConfigFile = "embedded/chart.config.yaml"

type ViewportConfig struct {
	Visible    int `yaml:"visible"`
	MinVisible int `yaml:"minVisible"`
	MaxVisible int `yaml:"maxVisible"`
	ZoomStep   int `yaml:"zoomStep"`
}

type RenderConfig struct {
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	FPS             int           `yaml:"fps"`
	Mode            string        `yaml:"mode"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// WindowConfig is a selectable resolution window
type WindowConfig struct {
	Name          string `yaml:"name"`
	Days          int    `yaml:"days"`
	TargetCandles int    `yaml:"targetCandles"`
}

type MarketConfig struct {
	Currency     string        `yaml:"currency"`
	PerPage      int           `yaml:"perPage"`
	MarketsTTL   time.Duration `yaml:"marketsTTL"`
	SeriesTTL    time.Duration `yaml:"seriesTTL"`
	RateCapacity int           `yaml:"rateCapacity"`
	RatePerSec   float64       `yaml:"ratePerSec"`
	Timeout      time.Duration `yaml:"timeout"`
}

type FeedConfig struct {
	TickType       string        `yaml:"tickType"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
}

type RecorderConfig struct {
	Symbols         []string      `yaml:"symbols"`
	Queue           int           `yaml:"queue"`
	PublishInterval time.Duration `yaml:"publishInterval"`
	Retention       time.Duration `yaml:"retention"`
}

type ChartConfig struct {
	Viewport ViewportConfig `yaml:"viewport"`
	Render   RenderConfig   `yaml:"render"`
	Windows  []WindowConfig `yaml:"windows"`
	Market   MarketConfig   `yaml:"market"`
	Feed     FeedConfig     `yaml:"feed"`
	Recorder RecorderConfig `yaml:"recorder"`
}

// LoadChartConfig reads the yaml file at path. An empty path loads the
// embedded default configuration.
func LoadChartConfig(path string) (*ChartConfig, error) {
	var data []byte
	var err error
	if path == "" {
		data, err = readEmbedded(defaultConfigFile)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return ParseChartConfig(data)
}

func ParseChartConfig(data []byte) (*ChartConfig, error) {
	var c ChartConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func readEmbedded(name string) ([]byte, error) {
	fs, err := EmbededConfigs.Open(name)
	if err != nil {
		return nil, err
	}
	defer fs.Close()
	return io.ReadAll(fs)
}

func (c *ChartConfig) Validate() error {
	v := c.Viewport
	if v.MinVisible <= 0 {
		return fmt.Errorf("minVisible must be greater than 0")
	}
	if v.MaxVisible < v.MinVisible {
		return fmt.Errorf("maxVisible %d below minVisible %d", v.MaxVisible, v.MinVisible)
	}
	if v.Visible < v.MinVisible || v.Visible > v.MaxVisible {
		return fmt.Errorf("visible %d outside [%d,%d]", v.Visible, v.MinVisible, v.MaxVisible)
	}
	if v.ZoomStep <= 0 {
		return fmt.Errorf("zoomStep must be greater than 0")
	}

	r := c.Render
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid render size %dx%d", r.Width, r.Height)
	}
	if r.FPS <= 0 || r.FPS > 120 {
		return fmt.Errorf("invalid fps %d", r.FPS)
	}
	if m := strings.ToLower(r.Mode); m != "candle" && m != "line" {
		return fmt.Errorf("unknown render mode '%s'", r.Mode)
	}
	if r.RefreshInterval < 0 {
		return fmt.Errorf("refreshInterval cannot be negative")
	}

	if len(c.Windows) == 0 {
		return fmt.Errorf("at least one window must be configured")
	}
	seen := make(map[string]bool)
	for i, w := range c.Windows {
		name := strings.ToUpper(w.Name)
		if name == "" {
			return fmt.Errorf("window %d must have a name", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate window '%s'", w.Name)
		}
		seen[name] = true
		if w.Days <= 0 || w.TargetCandles <= 0 {
			return fmt.Errorf("window '%s' needs positive days and targetCandles", w.Name)
		}
	}

	if c.Market.MarketsTTL <= 0 || c.Market.SeriesTTL <= 0 {
		return fmt.Errorf("market cache ttls must be greater than 0")
	}
	if c.Market.RatePerSec < 0 {
		return fmt.Errorf("ratePerSec cannot be negative")
	}
	if c.Feed.ReconnectDelay <= 0 {
		return fmt.Errorf("feed reconnectDelay must be greater than 0")
	}
	if c.Recorder.Queue < 0 {
		return fmt.Errorf("recorder queue cannot be negative")
	}
	return nil
}

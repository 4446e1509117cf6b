package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/models"
)

type WifiConfig struct {
	// network interface to watch, empty means any non loopback interface
	Interface string `mapstructure:"interface"`
	// when set the access point is joined through NetworkManager, otherwise
	// the OS is expected to bring the link up by itself
	SSID     string        `mapstructure:"ssid"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type NTPConfig struct {
	Servers []string      `mapstructure:"servers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ScheduleConfig struct {
	URL             string        `mapstructure:"url"`
	Token           string        `mapstructure:"token"`
	AuthHeader      string        `mapstructure:"authHeader"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`
	StaleThreshold  time.Duration `mapstructure:"staleThreshold"`
	DefaultMode     string        `mapstructure:"defaultMode"`
	// optional server sent events stream announcing schedule changes
	EventsURL    string `mapstructure:"eventsUrl"`
	EventsStream string `mapstructure:"eventsStream"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
}

type NightLightConfig struct {
	Warm float64 `mapstructure:"warm"`
	Cool float64 `mapstructure:"cool"`
}

type LampConfig struct {
	TickInterval time.Duration    `mapstructure:"tickInterval"`
	StartupRetry time.Duration    `mapstructure:"startupRetry"`
	RefreshRetry time.Duration    `mapstructure:"refreshRetry"`
	DemoInterval time.Duration    `mapstructure:"demoInterval"`
	NightLight   NightLightConfig `mapstructure:"nightLight"`
}

type OutputConfig struct {
	// "log" or "sysfs"
	Driver      string  `mapstructure:"driver"`
	Gamma       float64 `mapstructure:"gamma"`
	MaxDuty     int     `mapstructure:"maxDuty"`
	PWMChip     int     `mapstructure:"pwmChip"`
	WarmChannel int     `mapstructure:"warmChannel"`
	CoolChannel int     `mapstructure:"coolChannel"`
	PeriodNs    int     `mapstructure:"periodNs"`
	// sqlite database for the applied output journal, empty disables it
	JournalPath      string        `mapstructure:"journalPath"`
	JournalRetention time.Duration `mapstructure:"journalRetention"`
}

type RemoteLogConfig struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	ServiceName string `mapstructure:"serviceName"`
}

type LoggingConfig struct {
	Level  string          `mapstructure:"level"`
	File   string          `mapstructure:"file"`
	Remote RemoteLogConfig `mapstructure:"remote"`
}

type DaylightConfig struct {
	Enabled     bool                    `mapstructure:"enabled"`
	GeoLocation string                  `mapstructure:"geoLocation"`
	UTCOffset   int                     `mapstructure:"utcOffset"`
	Pattern     []models.DayPatternStep `mapstructure:"pattern"`
}

type Config struct {
	ClientName string         `mapstructure:"clientName"`
	Wifi       WifiConfig     `mapstructure:"wifi"`
	NTP        NTPConfig      `mapstructure:"ntp"`
	Schedule   ScheduleConfig `mapstructure:"schedule"`
	Retry      RetryConfig    `mapstructure:"retry"`
	Lamp       LampConfig     `mapstructure:"lamp"`
	Output     OutputConfig   `mapstructure:"output"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Daylight   DaylightConfig `mapstructure:"daylight"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("clientName", "Sunrise Lamp")

	v.SetDefault("wifi.interface", "")
	v.SetDefault("wifi.ssid", "")
	v.SetDefault("wifi.password", "")
	v.SetDefault("wifi.timeout", constants.WifiTimeout)

	v.SetDefault("ntp.servers", constants.DefaultNTPServers)
	v.SetDefault("ntp.timeout", constants.NTPTimeout)

	// keys without a useful default are still registered so that
	// SUNLAMP_* environment variables can override them
	v.SetDefault("schedule.url", "")
	v.SetDefault("schedule.token", "")
	v.SetDefault("schedule.eventsUrl", "")
	v.SetDefault("schedule.eventsStream", "")
	v.SetDefault("schedule.authHeader", constants.DefaultAuthHeader)
	v.SetDefault("schedule.timeout", constants.HTTPTimeout)
	v.SetDefault("schedule.refreshInterval", constants.ScheduleRefreshInterval)
	v.SetDefault("schedule.staleThreshold", constants.ScheduleStaleThreshold)
	v.SetDefault("schedule.defaultMode", constants.DefaultScheduleMode)

	v.SetDefault("retry.maxAttempts", constants.MaxAttempts)
	v.SetDefault("retry.baseDelay", constants.BaseRetryDelay)

	v.SetDefault("lamp.tickInterval", constants.TickInterval)
	v.SetDefault("lamp.startupRetry", constants.StartupRetryInterval)
	v.SetDefault("lamp.refreshRetry", constants.RefreshRetryInterval)
	v.SetDefault("lamp.demoInterval", constants.DemoTickInterval)
	v.SetDefault("lamp.nightLight.warm", constants.NightLightWarm)
	v.SetDefault("lamp.nightLight.cool", constants.NightLightCool)

	v.SetDefault("output.driver", "log")
	v.SetDefault("output.gamma", constants.GammaCorrection)
	v.SetDefault("output.maxDuty", constants.MaxDutyCycle)
	v.SetDefault("output.pwmChip", 0)
	v.SetDefault("output.warmChannel", 0)
	v.SetDefault("output.coolChannel", 1)
	v.SetDefault("output.periodNs", 125000) // 8kHz

	v.SetDefault("output.journalPath", "")
	v.SetDefault("output.journalRetention", constants.JournalRetention)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.remote.url", "")
	v.SetDefault("logging.remote.token", "")
	v.SetDefault("logging.remote.serviceName", "sunrise-lamp")
}

// ReadConfig finds and reads the config file. An explicit path takes
// precedence over the search paths.
func ReadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SUNLAMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")                 // name of config file (without extension)
		v.SetConfigType("json")                   // REQUIRED if the config file does not have the extension in the name
		v.AddConfigPath("/etc/sunlamp/")          // path to look for the config file in
		v.AddConfigPath("$HOME/.config/sunlamp/") // call multiple times to add many search paths
		v.AddConfigPath(".")                      // optionally look for config in the working directory
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// no file at all, run on defaults and environment
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values the lamp cannot run without
func (c Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Lamp.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("lamp.tickInterval must be positive, got %s", c.Lamp.TickInterval))
	}
	if !inUnitRange(c.Lamp.NightLight.Warm) || !inUnitRange(c.Lamp.NightLight.Cool) {
		errs = append(errs, fmt.Errorf("lamp.nightLight values must be within 0-1, got %v/%v", c.Lamp.NightLight.Warm, c.Lamp.NightLight.Cool))
	}
	if _, ok := models.ParseMode(c.Schedule.DefaultMode); !ok {
		errs = append(errs, fmt.Errorf("schedule.defaultMode %q is not a known mode", c.Schedule.DefaultMode))
	}
	if c.Output.Driver != "log" && c.Output.Driver != "sysfs" {
		errs = append(errs, fmt.Errorf("output.driver %q must be log or sysfs", c.Output.Driver))
	}
	if c.Daylight.Enabled && c.Daylight.GeoLocation == "" {
		errs = append(errs, errors.New("daylight.geoLocation is required when daylight.enabled is set"))
	}
	return errors.Join(errs...)
}

func (c Config) NightLight() models.Brightness {
	return models.Brightness{Warm: c.Lamp.NightLight.Warm, Cool: c.Lamp.NightLight.Cool}
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

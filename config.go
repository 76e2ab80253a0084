/*
 *    Copyright [2020] Sergey Kudasov
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

package sessionload

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load models of a runner
const (
	// UsersMode spawns simulated users that issue requests back to back (closed model)
	UsersMode = "users"
	// RPSMode issues requests at a target rate using a token channel (open model)
	RPSMode = "rps"
)

const (
	envPrefix           = "SESSIONLOAD"
	defaultDoTimeoutSec = 5
	defaultSpawnRate    = 1
)

// Prometheus prometheus config
type Prometheus struct {
	// URL prometheus base url
	URL string `mapstructure:"url"`
	// EnvLabel prometheus environment label
	EnvLabel string `mapstructure:"env_label"`
	// Namespace prometheus namespace
	Namespace string `mapstructure:"namespace"`
}

type GeneratorConfig struct {
	// Host current vm host configuration
	Host struct {
		// Name used in graphite metrics as prefix
		Name string `mapstructure:"name"`
		// NetworkIface default network interface to collect metrics from
		NetworkIface string `mapstructure:"network_iface"`
		// CollectMetrics collect host metrics flag
		CollectMetrics bool `mapstructure:"collect_metrics"`
	} `mapstructure:"host"`
	// Generator generator specific config
	Generator struct {
		// Target base url to attack
		Target string `mapstructure:"target"`
		// ResponseTimeoutSec response timeout in seconds
		ResponseTimeoutSec int `mapstructure:"responseTimeoutSec"`
		// RampUpStrategy ramp up strategy for rps mode: linear | exp2
		RampUpStrategy string `mapstructure:"ramp_up_strategy"`
		// Verbose allows to print debug generator logs
		Verbose bool `mapstructure:"verbose"`
		// DumpTransport dumps every request/response to the debug log
		DumpTransport bool `mapstructure:"dump_transport"`
		// MaxConnsPerHost connection pool size shared by all simulated users
		MaxConnsPerHost int `mapstructure:"max_conns_per_host"`
	} `mapstructure:"generator"`
	// Grafana related config
	Grafana struct {
		// URL base url of grafana, ex.: http://0.0.0.0:8181
		URL string `mapstructure:"url"`
	} `mapstructure:"grafana"`
	// Graphite related config
	Graphite struct {
		// URL graphite address, ex.: 0.0.0.0:2003
		URL string `mapstructure:"url"`
		// FlushIntervalSec flush interval in seconds
		FlushIntervalSec int `mapstructure:"flushDurationSec"`
		// LoadGeneratorPrefix prefix to be used in graphite metrics
		LoadGeneratorPrefix string `mapstructure:"loadGeneratorPrefix"`
	} `mapstructure:"graphite"`
	Prometheus *Prometheus `mapstructure:"prometheus"`
	// LoadScriptsDir relative from cwd load dir path, ex.: load
	LoadScriptsDir string `mapstructure:"load_scripts_dir"`
	// ReportDir directory for per handle json reports
	ReportDir string `mapstructure:"report_dir"`
	// CSVLog writes every request to result.csv
	CSVLog bool `mapstructure:"csv_log"`
	// HandleThresholdPercent p50 ratio to the last successful run considered a degradation, ex.: 1.2
	HandleThresholdPercent float64 `mapstructure:"handle_threshold_percent"`
	// Timezone timezone used for human readable test interval, ex.: Europe/Moscow
	Timezone string `mapstructure:"timezone"`
	// Logging logging related config
	Logging struct {
		// Level level of allowed log messages,ex.: debug | info
		Level string `mapstructure:"level"`
		// Encoding encoding of logs, ex.: console | json
		Encoding string `mapstructure:"encoding"`
		// OutputPaths zap sinks, ex.: stdout
		OutputPaths []string `mapstructure:"output_paths"`
	} `mapstructure:"logging"`
}

func newViper(cfgPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setGeneratorDefaults(v *viper.Viper) {
	v.SetDefault("generator.target", "http://localhost:80")
	v.SetDefault("generator.responseTimeoutSec", 20)
	v.SetDefault("generator.ramp_up_strategy", defaultRampupStrategy)
	v.SetDefault("generator.max_conns_per_host", 2000)
	v.SetDefault("graphite.flushDurationSec", 1)
	v.SetDefault("graphite.loadGeneratorPrefix", "sessionload")
	v.SetDefault("load_scripts_dir", "load")
	v.SetDefault("report_dir", "reports")
	v.SetDefault("handle_threshold_percent", 1.2)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.output_paths", []string{"stdout"})
}

// LoadDefaultGeneratorConfig reads generator yaml, env overrides use SESSIONLOAD_ prefix,
// ex.: SESSIONLOAD_GENERATOR_TARGET. The package logger is rebuilt from the logging section.
func LoadDefaultGeneratorConfig(cfgPath string) (*GeneratorConfig, error) {
	v := newViper(cfgPath)
	setGeneratorDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read generator config %s: %w", cfgPath, err)
	}
	var cfg GeneratorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generator config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		return nil, validationError("generator config", errs)
	}
	l, err := NewLogger(cfg.Logging.Level, cfg.Logging.Encoding, cfg.Logging.OutputPaths...)
	if err != nil {
		return nil, err
	}
	setLogger(l)
	return &cfg, nil
}

func (c *GeneratorConfig) Validate() (list []string) {
	u, err := url.Parse(c.Generator.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		list = append(list, fmt.Sprintf("generator target must be an absolute url, got %q", c.Generator.Target))
	}
	if c.Generator.ResponseTimeoutSec <= 0 {
		list = append(list, "please set generator responseTimeoutSec to a positive number of seconds")
	}
	switch c.Logging.Encoding {
	case "console", "json":
	default:
		list = append(list, fmt.Sprintf("logging encoding must be console or json, got %q", c.Logging.Encoding))
	}
	if c.Graphite.URL != "" && c.Graphite.FlushIntervalSec <= 0 {
		list = append(list, "please set graphite flushDurationSec to a positive number of seconds")
	}
	if c.Prometheus != nil && c.Prometheus.URL == "" {
		list = append(list, "prometheus section requires url")
	}
	return
}

func (c *GeneratorConfig) responseTimeout() time.Duration {
	return time.Duration(c.Generator.ResponseTimeoutSec) * time.Second
}

// SuiteConfig suite config
type SuiteConfig struct {
	// DumpTransport dumps request/response to the debug log
	DumpTransport bool `mapstructure:"dumptransport" yaml:"dumptransport"`
	// GoroutinesDump dump goroutines when SIGTERM
	GoroutinesDump bool `mapstructure:"goroutines_dump" yaml:"goroutines_dump"`
	// HttpTimeout default http client timeout, overrides generator responseTimeoutSec
	HttpTimeout int `mapstructure:"http_timeout" yaml:"http_timeout"`
	// Steps load test steps
	Steps []Step `mapstructure:"steps" yaml:"steps"`
}

// Step loadtest step config
type Step struct {
	// Name loadtest step name
	Name string `mapstructure:"name" yaml:"name"`
	// ExecutionMode handles execution mode: sequence, parallel
	ExecutionMode string `mapstructure:"execution_mode" yaml:"execution_mode"`
	// Handles handle configs
	Handles []RunnerConfig `mapstructure:"handles" yaml:"handles"`
}

// Checks stop criteria checks
type Checks struct {
	// Type error check mode, ex.: error | prometheus
	Type string `mapstructure:"type" yaml:"type"`
	// Query prometheus bool query
	Query string `mapstructure:"query" yaml:"query,omitempty"`
	// Threshold fail threshold, from 0 to 1, float
	Threshold float64 `mapstructure:"threshold" yaml:"threshold,omitempty"`
	// Interval check interval in seconds
	Interval int `mapstructure:"interval" yaml:"interval"`
}

// RunnerConfig runner config
type RunnerConfig struct {
	// WaitBeforeSec sleep before starting runner
	WaitBeforeSec int `mapstructure:"wait_before_sec" yaml:"wait_before_sec,omitempty" json:"wait_before_sec"`
	// HandleName name of a handle, must be known to the attacker factory
	HandleName string `mapstructure:"name" yaml:"name" json:"name"`
	// Mode load model: users | rps
	Mode string `mapstructure:"mode" yaml:"mode" json:"mode"`
	// Users number of simulated users in users mode
	Users int `mapstructure:"users" yaml:"users,omitempty" json:"users"`
	// SpawnRate users started per second in users mode
	SpawnRate int `mapstructure:"spawn_rate" yaml:"spawn_rate,omitempty" json:"spawn_rate"`
	// RPS max requests per second limit in rps mode, load profile depends on AttackTimeSec and RampUpTimeSec
	RPS int `mapstructure:"rps" yaml:"rps,omitempty" json:"rps"`
	// AttackTimeSec time of the test in seconds
	AttackTimeSec int `mapstructure:"attack_time_sec" yaml:"attack_time_sec" json:"attack_time_sec"`
	// RampUpTimeSec ramp up period in seconds, in which RPS will be increased to max of RPS parameter
	RampUpTimeSec int `mapstructure:"ramp_up_sec" yaml:"ramp_up_sec,omitempty" json:"ramp_up_sec"`
	// RampUpStrategy ramp up strategy: linear | exp2
	RampUpStrategy string `mapstructure:"ramp_up_strategy" yaml:"ramp_up_strategy,omitempty" json:"ramp_up_strategy"`
	// MaxAttackers max amount of goroutines to attack in rps mode
	MaxAttackers int `mapstructure:"max_attackers" yaml:"max_attackers,omitempty" json:"max_attackers"`
	// OutputFilename report filename
	OutputFilename string `mapstructure:"outputFilename,omitempty" yaml:"outputFilename,omitempty" json:"outputFilename,omitempty"`
	// Verbose allows to print generator debug info
	Verbose bool `mapstructure:"verbose" yaml:"verbose,omitempty" json:"verbose"`
	// Metadata load run metadata, keys ending with * are masked in reports
	Metadata map[string]string `mapstructure:"metadata,omitempty" yaml:"metadata,omitempty" json:"metadata,omitempty"`
	// DoTimeoutSec attacker.Do() func timeout
	DoTimeoutSec int `mapstructure:"do_timeout_sec" yaml:"do_timeout_sec,omitempty" json:"do_timeout_sec"`
	// Seed seeds simulated users random sources, zero means time based
	Seed int64 `mapstructure:"seed" yaml:"seed,omitempty" json:"seed"`
	// HandleParams handle params metadata, ex. limit=100
	HandleParams map[string]string `mapstructure:"handle_params,omitempty" yaml:"handle_params,omitempty" json:"handle_params,omitempty"`
	// StopIf describes stop test criteria
	StopIf []Checks `mapstructure:"stop_if" yaml:"stop_if,omitempty" json:"stop_if,omitempty"`
}

// WithDefaults fills unset optional fields.
func (c RunnerConfig) WithDefaults() RunnerConfig {
	if c.Mode == "" {
		c.Mode = UsersMode
	}
	if c.DoTimeoutSec == 0 {
		c.DoTimeoutSec = defaultDoTimeoutSec
	}
	if c.Mode == UsersMode && c.SpawnRate == 0 {
		c.SpawnRate = defaultSpawnRate
	}
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return c
}

// Validate checks all settings and returns a list of strings with problems.
func (c RunnerConfig) Validate() (list []string) {
	if c.HandleName == "" {
		list = append(list, "please set the handle name")
	}
	switch c.Mode {
	case UsersMode:
		if c.Users <= 0 {
			list = append(list, "please set a positive number of users")
		}
		if c.SpawnRate <= 0 {
			list = append(list, "please set the spawn rate to a positive number of users per second")
		}
		if c.AttackTimeSec < 1 {
			list = append(list, "please set the attack time to a positive number of seconds")
		}
	case RPSMode:
		if c.RPS <= 0 {
			list = append(list, "please set the RPS to a positive number of seconds")
		}
		if c.AttackTimeSec < 2 {
			list = append(list, "please set the attack time to a positive number of seconds > 1")
		}
		if c.RampUpTimeSec < 1 {
			list = append(list, "please set the ramp up time to a positive number of seconds > 0")
		}
		if c.RampUpTimeSec >= c.AttackTimeSec {
			list = append(list, "please set the ramp up time lower than the attack time")
		}
		if c.MaxAttackers <= 0 {
			list = append(list, "please set a positive maximum number of attackers")
		}
		switch c.rampupStrategy() {
		case "linear", "exp2":
		default:
			list = append(list, fmt.Sprintf("unknown ramp up strategy %q, possible values are {linear,exp2}", c.RampUpStrategy))
		}
	default:
		list = append(list, fmt.Sprintf("unknown mode %q, possible values are {users,rps}", c.Mode))
	}
	if c.DoTimeoutSec <= 0 {
		list = append(list, "please set the Do() timeout to a positive maximum number of seconds")
	}
	for _, ch := range c.StopIf {
		if ch.Interval <= 0 {
			list = append(list, fmt.Sprintf("stop_if %s check requires a positive interval", ch.Type))
		}
	}
	return
}

// timeout is in seconds
func (c RunnerConfig) timeout() time.Duration {
	return time.Duration(c.DoTimeoutSec) * time.Second
}

func (c RunnerConfig) attackTime() time.Duration {
	return time.Duration(c.AttackTimeSec) * time.Second
}

func (c RunnerConfig) rampupStrategy() string {
	if len(c.RampUpStrategy) == 0 {
		return defaultRampupStrategy
	}
	return c.RampUpStrategy
}

// LoadSuiteConfig loads yaml loadtest profile Config
func LoadSuiteConfig(cfgPath string) (*SuiteConfig, error) {
	v := newViper(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read suite config %s: %w", cfgPath, err)
	}
	var suiteCfg SuiteConfig
	if err := v.Unmarshal(&suiteCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suite config: %w", err)
	}
	if len(suiteCfg.Steps) == 0 {
		return nil, errors.New("suite config has no steps")
	}
	var errs []string
	for si, step := range suiteCfg.Steps {
		switch step.ExecutionMode {
		case ParallelMode, SequenceMode:
		default:
			errs = append(errs, fmt.Sprintf("step %q: please set execution_mode, parallel or sequence", step.Name))
		}
		for hi, h := range step.Handles {
			h = h.WithDefaults()
			suiteCfg.Steps[si].Handles[hi] = h
			for _, msg := range h.Validate() {
				errs = append(errs, fmt.Sprintf("step %q handle %q: %s", step.Name, h.HandleName, msg))
			}
		}
	}
	if len(errs) != 0 {
		return nil, validationError("suite config", errs)
	}
	return &suiteCfg, nil
}

func validationError(what string, msgs []string) error {
	return fmt.Errorf("%s is invalid: %s", what, strings.Join(msgs, "; "))
}

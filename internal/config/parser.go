// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads connection configuration from a file path.
func (p *Parser) LoadFile(path string) ([]models.ConnectionConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) ([]models.ConnectionConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// rawConnection mirrors one entry of the `connections:` list. Connections
// are a YAML list rather than a map so their order survives parsing and
// stays stable in UI output.
type rawConnection struct {
	Name           string        `mapstructure:"name"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	DBName         string        `mapstructure:"dbname"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DumpPath       string        `mapstructure:"dump_path"`
	PreventRestore bool          `mapstructure:"prevent_restore"`
	Wake           *rawWake      `mapstructure:"wake"`
	S3             *rawS3        `mapstructure:"s3"`
	Retention      *rawRetention `mapstructure:"retention"`
}

type rawWake struct {
	MACAddress    string        `mapstructure:"mac_address"`
	BroadcastIP   string        `mapstructure:"broadcast_ip"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	StabilizeWait time.Duration `mapstructure:"stabilize_wait"`
}

type rawS3 struct {
	Endpoint     string `mapstructure:"endpoint"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Prefix       string `mapstructure:"prefix"`
	AccessKeyEnv string `mapstructure:"access_key_env"`
	SecretKeyEnv string `mapstructure:"secret_key_env"`
}

type rawRetention struct {
	KeepLast    int `mapstructure:"keep_last"`
	KeepDaily   int `mapstructure:"keep_daily"`
	KeepWeekly  int `mapstructure:"keep_weekly"`
	KeepMonthly int `mapstructure:"keep_monthly"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() ([]models.ConnectionConfig, error) {
	var raw []rawConnection
	if err := p.v.UnmarshalKey("connections", &raw); err != nil {
		return nil, fmt.Errorf("parsing connections: %w", err)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one connection is required")
	}

	seen := make(map[string]bool, len(raw))
	conns := make([]models.ConnectionConfig, 0, len(raw))

	for i, rc := range raw {
		if rc.Name == "" {
			return nil, fmt.Errorf("connections[%d]: name is required", i)
		}
		if seen[rc.Name] {
			return nil, fmt.Errorf("duplicate connection name %q", rc.Name)
		}
		seen[rc.Name] = true

		conn := models.ConnectionConfig{
			Name:           rc.Name,
			Host:           rc.Host,
			Port:           rc.Port,
			DBName:         rc.DBName,
			User:           rc.User,
			Password:       p.expandEnv(rc.Password),
			DumpPath:       p.expandEnv(rc.DumpPath),
			PreventRestore: rc.PreventRestore,
		}

		if conn.Host == "" {
			conn.Host = "localhost"
		}
		if conn.Port == 0 {
			conn.Port = 5432
		}
		if conn.User == "" {
			conn.User = "postgres"
		}
		if conn.DBName == "" {
			return nil, fmt.Errorf("connection %q: dbname is required", rc.Name)
		}
		if conn.DumpPath == "" {
			return nil, fmt.Errorf("connection %q: dump_path is required", rc.Name)
		}

		if rc.Wake != nil {
			wake := &models.WakeConfig{
				MACAddress:    rc.Wake.MACAddress,
				BroadcastIP:   rc.Wake.BroadcastIP,
				Timeout:       rc.Wake.Timeout,
				PollInterval:  rc.Wake.PollInterval,
				StabilizeWait: rc.Wake.StabilizeWait,
			}

			if wake.MACAddress == "" {
				return nil, fmt.Errorf("connection %q: wake.mac_address is required when wake is configured", rc.Name)
			}
			if wake.BroadcastIP == "" {
				wake.BroadcastIP = "255.255.255.255"
			}
			if wake.Timeout == 0 {
				wake.Timeout = 5 * time.Minute
			}
			if wake.PollInterval == 0 {
				wake.PollInterval = 10 * time.Second
			}
			if wake.StabilizeWait == 0 {
				wake.StabilizeWait = 10 * time.Second
			}

			conn.Wake = wake
		}

		if rc.S3 != nil {
			s3cfg := &models.S3Config{
				Endpoint:     rc.S3.Endpoint,
				Bucket:       rc.S3.Bucket,
				Region:       rc.S3.Region,
				Prefix:       rc.S3.Prefix,
				AccessKeyEnv: rc.S3.AccessKeyEnv,
				SecretKeyEnv: rc.S3.SecretKeyEnv,
			}

			if s3cfg.Bucket == "" {
				return nil, fmt.Errorf("connection %q: s3.bucket is required when s3 is configured", rc.Name)
			}
			if s3cfg.AccessKeyEnv == "" {
				s3cfg.AccessKeyEnv = "AWS_ACCESS_KEY_ID"
			}
			if s3cfg.SecretKeyEnv == "" {
				s3cfg.SecretKeyEnv = "AWS_SECRET_ACCESS_KEY"
			}

			conn.S3 = s3cfg
		}

		if rc.Retention != nil {
			policy := &models.RetentionPolicy{
				KeepLast:    rc.Retention.KeepLast,
				KeepDaily:   rc.Retention.KeepDaily,
				KeepWeekly:  rc.Retention.KeepWeekly,
				KeepMonthly: rc.Retention.KeepMonthly,
			}
			if !policy.Enabled() {
				return nil, fmt.Errorf("connection %q: retention is configured but keeps nothing", rc.Name)
			}
			conn.Retention = policy
		}

		conns = append(conns, conn)
	}

	return conns, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(conns []models.ConnectionConfig) error {
	if len(conns) == 0 {
		return fmt.Errorf("at least one connection is required")
	}

	for _, c := range conns {
		if c.Name == "" {
			return fmt.Errorf("connection with empty name")
		}
		if c.DBName == "" {
			return fmt.Errorf("connection %q: dbname is required", c.Name)
		}
		if c.DumpPath == "" {
			return fmt.Errorf("connection %q: dump_path is required", c.Name)
		}
	}

	return nil
}

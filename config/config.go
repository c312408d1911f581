// Package config resolves the server settings from defaults, an optional HCL
// file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config holds everything the serve command needs.
type Config struct {
	Host            string
	Port            int
	Backend         string
	DataFile        string
	Seed            string
	AllowedOrigins  []string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            3000,
		AllowedOrigins:  []string{"*"},
		MaxBodyBytes:    10 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Backend != "memory" && c.DataFile == "" {
		return fmt.Errorf("no data file given")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body size must be positive")
	}
	return nil
}

// hclFile is the layout of a config file:
//
//	server {
//	  host = "0.0.0.0"
//	  port = 8080
//	  allowed_origins = ["http://localhost:5173"]
//	}
//
//	store {
//	  backend = "sqlite"
//	  path    = "./data/mock.db"
//	  seed    = "./db.json"
//	}
type hclFile struct {
	Server *hclServer `hcl:"server,block"`
	Store  *hclStore  `hcl:"store,block"`
}

type hclServer struct {
	Host            *string  `hcl:"host,optional"`
	Port            *int     `hcl:"port,optional"`
	AllowedOrigins  []string `hcl:"allowed_origins,optional"`
	MaxBodyBytes    *int64   `hcl:"max_body_bytes,optional"`
	ShutdownTimeout *string  `hcl:"shutdown_timeout,optional"`
}

type hclStore struct {
	Backend *string `hcl:"backend,optional"`
	Path    *string `hcl:"path,optional"`
	Seed    *string `hcl:"seed,optional"`
}

// LoadFile applies the settings found in the HCL file at path on top of c.
func (c *Config) LoadFile(path string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	if s := parsed.Server; s != nil {
		setString(&c.Host, s.Host)
		if s.Port != nil {
			c.Port = *s.Port
		}
		if s.AllowedOrigins != nil {
			c.AllowedOrigins = s.AllowedOrigins
		}
		if s.MaxBodyBytes != nil {
			c.MaxBodyBytes = *s.MaxBodyBytes
		}
		if s.ShutdownTimeout != nil {
			d, err := time.ParseDuration(*s.ShutdownTimeout)
			if err != nil {
				return fmt.Errorf("config file %s: shutdown_timeout: %w", path, err)
			}
			c.ShutdownTimeout = d
		}
	}
	if s := parsed.Store; s != nil {
		setString(&c.Backend, s.Backend)
		setString(&c.DataFile, s.Path)
		setString(&c.Seed, s.Seed)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Getenv looks up environment variables; os.Getenv in production.
type Getenv func(string) string

// LoadEnv applies HOST, PORT, STORE_BACKEND, DATA_FILE, SEED_FILE and
// ALLOWED_ORIGINS on top of c.
func (c *Config) LoadEnv(getenv Getenv) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	env := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	env("HOST", &c.Host)
	env("STORE_BACKEND", &c.Backend)
	env("DATA_FILE", &c.DataFile)
	env("SEED_FILE", &c.Seed)
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Port = port
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = SplitOrigins(v)
	}
	return nil
}

// SplitOrigins splits a comma separated origin list, dropping blanks.
func SplitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

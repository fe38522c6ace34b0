// Package config handles gojvm.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ClassPathEnv overrides the configured class path when set.
const ClassPathEnv = "GOJVM_CLASSPATH"

// Config represents a gojvm.toml file.
type Config struct {
	ClassPath []string `toml:"classpath"`
	Heap      Heap     `toml:"heap"`
	Log       Log      `toml:"log"`

	// Dir is the directory containing the config file (set at load time).
	// Relative class path entries are resolved against it.
	Dir string `toml:"-"`
}

// Heap sizes the runtime's memory.
type Heap struct {
	// NurseryWords is the size of each thread's small-object region.
	NurseryWords int `toml:"nursery-words"`
	// LargeObjectBytes is the size above which an allocation bypasses the
	// small-object region. Zero means the nursery size.
	LargeObjectBytes  int `toml:"large-object-bytes"`
	YoungChunkWords   int `toml:"young-chunk-words"`
	TenuredChunkWords int `toml:"tenured-chunk-words"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ClassPath: []string{"."},
		Heap: Heap{
			NurseryWords:      64 * 1024,
			YoungChunkWords:   256 * 1024,
			TenuredChunkWords: 1024 * 1024,
		},
	}
}

// Load parses the config file at path over the defaults, then applies the
// environment override.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.ApplyEnv()
	return c, c.Validate()
}

// ApplyEnv replaces the class path with $GOJVM_CLASSPATH when it is set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(ClassPathEnv); v != "" {
		c.ClassPath = filepath.SplitList(v)
	}
}

// Validate rejects sizes the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Heap.NurseryWords < 16 {
		return fmt.Errorf("heap.nursery-words must be at least 16, got %d", c.Heap.NurseryWords)
	}
	if c.Heap.LargeObjectBytes < 0 {
		return fmt.Errorf("heap.large-object-bytes must not be negative, got %d", c.Heap.LargeObjectBytes)
	}
	return nil
}

// ClassPathEntries returns the class path with relative entries resolved
// against the config directory.
func (c *Config) ClassPathEntries() []string {
	paths := make([]string, 0, len(c.ClassPath))
	for _, p := range c.ClassPath {
		if c.Dir != "" && !filepath.IsAbs(p) {
			p = filepath.Join(c.Dir, p)
		}
		paths = append(paths, p)
	}
	return paths
}

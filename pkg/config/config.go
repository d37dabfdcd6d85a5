// Package config parses RayField's line-based, whitespace-separated
// configuration file format (spec.md §6): one directive per line, a
// keyword followed by its value(s), no comment syntax of any kind -
// a literal "#" is not special and would be rejected as an unknown
// directive like anything else.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config holds one parsed configuration file's directives.
type Config struct {
	// NThreads is the requested local worker thread count; 0 means
	// "auto" (spec.md's nthreads <auto|N>), resolved by the caller to
	// runtime.NumCPU().
	NThreads    int
	AutoThreads bool

	MemLimitMiB int
	Distributed bool
	Port        uint16
	MaxClients  int

	Servers     []string
	SearchPaths []string
}

// Default returns a Config matching the single-tile, non-distributed
// defaults spec.md's worked examples assume when a directive is
// omitted.
func Default() Config {
	return Config{
		AutoThreads: true,
		MemLimitMiB: 512,
		Distributed: false,
		Port:        7755,
		MaxClients:  16,
	}
}

// Load reads and parses a configuration file at path.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads directives from r, one per line, applying them over
// Default().
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		keyword, args := fields[0], fields[1:]
		if err := cfg.apply(keyword, args); err != nil {
			return Config{}, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: scan: %w", err)
	}
	return cfg, nil
}

func (c *Config) apply(keyword string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: missing value", keyword)
	}

	switch keyword {
	case "nthreads":
		if args[0] == "auto" {
			c.AutoThreads = true
			c.NThreads = 0
			return nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("nthreads: invalid value %q", args[0])
		}
		c.AutoThreads = false
		c.NThreads = n

	case "memlimit":
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("memlimit: invalid value %q", args[0])
		}
		c.MemLimitMiB = n

	case "distributed":
		on, err := parseOnOff(args[0])
		if err != nil {
			return fmt.Errorf("distributed: %w", err)
		}
		c.Distributed = on

	case "port":
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("port: invalid value %q", args[0])
		}
		c.Port = uint16(n)

	case "maxclients":
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("maxclients: invalid value %q", args[0])
		}
		c.MaxClients = n

	case "server":
		c.Servers = append(c.Servers, args[0])

	case "searchpath":
		c.SearchPaths = append(c.SearchPaths, args[0])

	default:
		return fmt.Errorf("unknown directive %q", keyword)
	}
	return nil
}

func parseOnOff(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected on|off, got %q", v)
	}
}

// MemLimitBytes converts MemLimitMiB to bytes, the unit
// database.Options.MemLimit expects.
func (c Config) MemLimitBytes() int {
	return c.MemLimitMiB << 20
}

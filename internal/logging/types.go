package logging

import (
	"fmt"
	"strings"
	"sync"
)

// LogLevel orders log severities from DEBUG to FATAL.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// noLevel is returned by GetPackageLogLevel when no override applies.
const noLevel LogLevel = -1

var levelNames = [...]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

func (l LogLevel) String() string {
	if l < DEBUG || l > FATAL {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}

// LogField is one key=value pair appended to a log line.
type LogField struct {
	Key   string
	Value any
}

// Field builds a LogField.
func Field(key string, value any) LogField {
	return LogField{Key: key, Value: value}
}

// overrides holds per-package levels keyed by exact logger name or by a
// "prefix.*" pattern.
var overrides = struct {
	sync.RWMutex
	levels map[string]LogLevel
}{levels: map[string]LogLevel{}}

// SetPackageLogLevels replaces every per-package override. A pattern such as
// "store.*" covers "store.falkordb" and "store.pgvector" but not "storefront".
func SetPackageLogLevels(levels map[string]string) error {
	if levels == nil {
		return nil
	}
	parsed := make(map[string]LogLevel, len(levels))
	for pkg, s := range levels {
		level, err := parseLevel(s)
		if err != nil {
			return fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
		parsed[pkg] = level
	}

	overrides.Lock()
	overrides.levels = parsed
	overrides.Unlock()
	return nil
}

// GetPackageLogLevel returns the override for a logger name, or -1 when none
// applies. An exact name beats any pattern and the longest pattern wins.
func GetPackageLogLevel(name string) LogLevel {
	overrides.RLock()
	defer overrides.RUnlock()

	if level, ok := overrides.levels[name]; ok {
		return level
	}
	best, found := "", noLevel
	for pattern, level := range overrides.levels {
		prefix, ok := strings.CutSuffix(pattern, ".*")
		if !ok || !strings.HasPrefix(name, prefix+".") {
			continue
		}
		if len(pattern) > len(best) {
			best, found = pattern, level
		}
	}
	return found
}

func parseLevel(s string) (LogLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return WARN, nil
	}
	for level, name := range levelNames {
		if s == name {
			return LogLevel(level), nil
		}
	}
	return noLevel, fmt.Errorf("invalid level: %s (must be DEBUG, INFO, WARN, ERROR, or FATAL)", s)
}

// ValidLevel reports whether s names a log level.
func ValidLevel(s string) bool {
	_, err := parseLevel(s)
	return err == nil
}

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// errOut receives ERROR and FATAL lines.
var errOut io.Writer = os.Stderr

// writeLog formats one line as "[ts] [LEVEL] name: msg | k=v ..." with keys
// sorted. ERROR and FATAL go to errOut, everything else through the standard
// log package.
func (l *Logger) writeLog(level LogLevel, msg string, fields map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	if level >= ERROR {
		fmt.Fprintln(errOut, b.String())
		return
	}
	log.Println(b.String())
}

// GetTimestamp returns the current time in RFC3339.
// LOG_TIMESTAMP overrides it for deterministic test output.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}

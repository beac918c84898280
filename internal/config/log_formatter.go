package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	red         = 31
	yellow      = 33
	blue        = 36
	gray        = 37
	green       = 32
	cyan        = 96
	lightYellow = 93
	lightGreen  = 92
)

// NbFormatter is the colored console formatter. The "object" field leads the
// line, remaining fields follow in key order.
type NbFormatter struct {
	// CallerDepth enables the source field when positive.
	CallerDepth int
}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	levelColor := blue
	switch entry.Level {
	case log.DebugLevel, log.TraceLevel:
		levelColor = gray
	case log.WarnLevel:
		levelColor = yellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = red
	}

	var b strings.Builder
	field := func(key string, color int, value string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "\x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m", cyan, key, color, value)
	}

	field("level", levelColor, strings.ToUpper(entry.Level.String())[:4])
	field("ts", lightYellow, entry.Time.Format("2006-01-02 15:04:05.000"))
	if f.CallerDepth > 0 {
		if _, file, line, ok := runtime.Caller(f.CallerDepth); ok {
			field("source", lightYellow, file+":"+strconv.Itoa(line))
		}
	}
	if object, ok := entry.Data["object"]; ok {
		field("object", lightGreen, fmt.Sprint(object))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "object" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := formatValue(entry.Data[k])
		if s == "" {
			continue
		}
		valueColor := cyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = green
		} else if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") {
			valueColor = lightYellow
		}
		field(k, valueColor, s)
	}
	field("msg", lightGreen, strconv.Quote(entry.Message))

	output := strings.NewReplacer("\r", "\\r", "\n", "\\n").Replace(b.String()) + "\n"
	return []byte(output), nil
}

func formatValue(val any) string {
	if err, ok := val.(error); ok {
		return strconv.Quote(err.Error())
	}
	m, err := json.Marshal(val)
	if err != nil {
		return ""
	}
	return string(m)
}

package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightGreen  = 92
	colorLightYellow = 93
	colorCyan        = 96
)

// NbFormatter renders entries as colored key=value lines.
// The "object" and "method" fields go first, the rest are sorted.
type NbFormatter struct {
	// NoColor disables ANSI escapes, used when output is not a terminal.
	NoColor bool
}

func (f *NbFormatter) Format(entry *log.Entry) ([]byte, error) {
	var b strings.Builder

	f.pair(&b, "level", f.paint(levelColor(entry.Level), strings.ToUpper(entry.Level.String())[:4]))
	f.pair(&b, "ts", f.paint(colorLightYellow, entry.Time.Format("2006-01-02 15:04:05.000")))

	for _, k := range fieldOrder(entry.Data) {
		m, err := json.Marshal(entry.Data[k])
		if err != nil || len(m) == 0 {
			continue
		}
		s := string(m)
		valueColor := colorCyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = colorGreen
		} else if strings.HasPrefix(s, `"`) {
			valueColor = colorLightYellow
		}
		f.pair(&b, k, f.paint(valueColor, s))
	}
	f.pair(&b, "msg", f.paint(colorLightGreen, strconv.Quote(entry.Message)))

	out := strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(b.String())
	return []byte(out + "\n"), nil
}

func (f *NbFormatter) pair(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(f.paint(colorCyan, key))
	b.WriteByte('=')
	b.WriteString(value)
}

func (f *NbFormatter) paint(color int, s string) string {
	if f.NoColor {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", color, s)
}

func levelColor(level log.Level) int {
	switch level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		return colorRed
	case log.WarnLevel:
		return colorYellow
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	default:
		return colorBlue
	}
}

func fieldOrder(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k == "object" || k == "method" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	head := make([]string, 0, 2)
	for _, k := range []string{"object", "method"} {
		if _, ok := data[k]; ok {
			head = append(head, k)
		}
	}
	return append(head, keys...)
}

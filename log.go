package weavebase

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/t7a/weavebase/config"
)

const logTimeFormat = "15:04:05.999999999"

// InitLogging configures the standard logrus logger from cfg.  At
// debug level and finer each entry also carries its caller and
// goroutine id.
func InitLogging(cfg *config.Config) {
	lvl := cfg.Level()
	log.SetLevel(lvl)
	formatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: logTimeFormat,
	}
	verbose := lvl >= log.DebugLevel
	log.SetReportCaller(verbose)
	if verbose {
		formatter.CallerPrettyfier = caller
		formatter.FieldMap = log.FieldMap{log.FieldKeyFile: "caller"}
	}
	log.SetFormatter(formatter)
	if cfg.Network != "" {
		log.Debugf("network %s via %s", cfg.Network, strings.Join(cfg.Hosts, ","))
	}
}

// caller renders the log site as `dir/file.go:42 g7`, relative to the
// working directory.
func caller(f *runtime.Frame) (function string, file string) {
	fn := f.File
	if wd, err := os.Getwd(); err == nil {
		fn = strings.TrimPrefix(fn, wd+string(os.PathSeparator))
	}
	return "", fmt.Sprintf("%s:%d g%d", fn, f.Line, GetGID())
}

// GetGID returns the calling goroutine's id.  It is for log lines
// only.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

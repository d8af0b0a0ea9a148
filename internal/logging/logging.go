package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"planning-poker-server/internal/config"
)

// Configure replaces the global zerolog logger. Format "auto" picks the
// console writer when out is a terminal and JSON otherwise. It must run
// before any other goroutine logs; use SetLevel afterwards.
func Configure(cfg config.LogConfig, out io.Writer) {
	log.Logger = zerolog.New(writer(cfg.Format, out)).With().Timestamp().Logger()
	SetLevel(cfg.Level)
}

// SetLevel changes the global level only, so it is safe while other
// goroutines are logging.
func SetLevel(name string) {
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if err != nil {
		log.Warn().Str("level", name).Msg("unknown log level, using info")
	}
}

func writer(format string, out io.Writer) io.Writer {
	switch strings.ToLower(format) {
	case "json":
		return out
	case "console":
		return console(out)
	}
	if f, ok := out.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return console(out)
	}
	return out
}

func console(out io.Writer) io.Writer {
	if f, ok := out.(*os.File); ok {
		out = colorable.NewColorable(f)
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
}

// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"net/url"
	"os"
	"runtime"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Defaults selects flag defaults. Release builds set it with
// -ldflags "-X storj.io/collections/pkg/process.Defaults=release".
var Defaults = "dev"

// Error is a process error class.
var Error = errs.Class("process error")

var (
	logLevel    = zap.LevelFlag("log.level", defaultLevel(), "the minimum log level to log")
	logDev      = flag.Bool("log.development", isDev(), "if true, set logging to development mode")
	logCaller   = flag.Bool("log.caller", isDev(), "if true, log function filename and line number")
	logStack    = flag.Bool("log.stack", isDev(), "if true, log stack traces")
	logEncoding = flag.String("log.encoding", "console", "configures log encoding. can either be 'console' or 'json'")
	logOutput   = flag.String("log.output", "stderr", "comma separated outputs: stdout, stderr, or filenames")
)

func init() {
	// winfile:///C:/path avoids the drive letter being read as a url scheme.
	err := zap.RegisterSink("winfile", func(u *url.URL) (zap.Sink, error) {
		return os.OpenFile(strings.TrimPrefix(u.Path, "/"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	})
	if err != nil {
		panic("unable to register winfile sink: " + err.Error())
	}
}

func isDev() bool { return Defaults != "release" }

func defaultLevel() zapcore.Level {
	if isDev() {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// NewLogger creates a logger configured by the log.* flags.
func NewLogger() (*zap.Logger, error) {
	return NewLoggerWithOutputPaths(strings.Split(*logOutput, ",")...)
}

// NewLoggerWithOutputPaths is the same as NewLogger, but overrides the log output paths.
func NewLoggerWithOutputPaths(outputPaths ...string) (*zap.Logger, error) {
	logger, err := loggerConfig(outputPaths).Build()
	return logger, Error.Wrap(err)
}

func loggerConfig(outputPaths []string) zap.Config {
	encoder := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if runtime.GOOS == "windows" || *logEncoding == "json" {
		encoder.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if os.Getenv(EnvPrefix+"_LOG_NOTIME") != "" {
		encoder.TimeKey = ""
	}

	return zap.Config{
		Level:             zap.NewAtomicLevelAt(*logLevel),
		Development:       *logDev,
		DisableCaller:     !*logCaller,
		DisableStacktrace: !*logStack,
		Encoding:          *logEncoding,
		EncoderConfig:     encoder,
		OutputPaths:       outputPaths,
		ErrorOutputPaths:  outputPaths,
	}
}

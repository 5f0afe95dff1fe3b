/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package logger

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	quiet       = pflag.Bool("quiet", false, "Disables all logging output")
	logLevelArg = pflag.String("log-level", "info", "Sets the maximum level of output [Error, Warning, Info (Default), Debug]")
	logFile     = pflag.String("log-file", "", "Writes log output to the given file instead of stderr")
	logFormat   = pflag.String("log-format", "juice", "Set the format of the logging [juice, console, json]")

	formats = []string{"juice", "console", "json"}

	level = zap.NewAtomicLevelAt(zap.InfoLevel)

	// Nop until Configure runs so packages can log from tests without setup.
	base    = zap.NewNop()
	sugared = base.Sugar()
	options []zap.Option
)

func init() {
	zap.RegisterEncoder("juice", NewJuiceEncoder)
}

// ParseLevel accepts the zap level names plus "warning".
func ParseLevel(text string) (zapcore.Level, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "warning" {
		text = "warn"
	}

	return zapcore.ParseLevel(text)
}

func Level() zapcore.Level {
	return level.Level()
}

// AddOption registers a zap option for the next Configure.
func AddOption(option zap.Option) {
	options = append(options, option)
}

func Configure() error {
	parsed, err := ParseLevel(*logLevelArg)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	level.SetLevel(parsed)

	format := strings.ToLower(*logFormat)
	if !isFormat(format) {
		return fmt.Errorf("--log-format: unknown format %q, expected one of %s", *logFormat, strings.Join(formats, ", "))
	}

	if *quiet {
		base = zap.NewNop()
		sugared = base.Sugar()
		return nil
	}

	config := zap.NewDevelopmentConfig()
	config.Encoding = format
	config.Level = level
	config.DisableStacktrace = true
	if *logFile != "" {
		config.OutputPaths = []string{*logFile}
	}

	built, err := config.Build(append(options, zap.AddCallerSkip(1))...)
	if err != nil {
		return fmt.Errorf("failed to initialize logger, %w", err)
	}

	base = built
	sugared = base.Sugar()
	return nil
}

func isFormat(format string) bool {
	for _, known := range formats {
		if known == format {
			return true
		}
	}
	return false
}

func Close() {
	base.Sync()
}

// With returns a child logger carrying the given key/value pairs on every
// entry. The child does not skip the package api frame.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return sugared.WithOptions(zap.AddCallerSkip(-1)).With(keysAndValues...)
}

func Error(v ...any) {
	sugared.Error(v...)
}

func Errorf(format string, v ...any) {
	sugared.Errorf(format, v...)
}

func Warning(v ...any) {
	sugared.Warn(v...)
}

func Warningf(format string, v ...any) {
	sugared.Warnf(format, v...)
}

func Info(v ...any) {
	sugared.Info(v...)
}

func Infof(format string, v ...any) {
	sugared.Infof(format, v...)
}

func Debug(v ...any) {
	sugared.Debug(v...)
}

func Debugf(format string, v ...any) {
	sugared.Debugf(format, v...)
}

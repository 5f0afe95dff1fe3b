/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package appmain

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Juice-Labs/session-proxy/pkg/errors"
	"github.com/Juice-Labs/session-proxy/pkg/logger"
	"github.com/Juice-Labs/session-proxy/pkg/sentry"
	"github.com/Juice-Labs/session-proxy/pkg/task"
)

type Config struct {
	Name    string
	Version string

	SentryConfig sentry.ClientOptions
}

const (
	ExitSuccess = 0
	ExitFailure = 1
)

var (
	printVersion = pflag.Bool("version", false, "Prints the version and exits")
)

func Run(config Config, logic task.TaskFn) {
	os.Exit(run(config, logic))
}

func run(config Config, logic task.TaskFn) int {
	pflag.Parse()

	if *printVersion {
		fmt.Fprintln(os.Stdout, config.Version)
		return ExitSuccess
	}

	err := sentry.Initialize(config.SentryConfig)
	if err == nil {
		defer sentry.Close()

		err = logger.Configure()
		if err == nil {
			defer logger.Close()
			logger.Info(config.Name, ", v", config.Version)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			taskManager := task.NewTaskManager(ctx)
			taskManager.GoFn("AppMain", logic)
			err = taskManager.Wait()
			if err != nil {
				logger.Error(err)
				if !errors.IsFatal(err) {
					sentry.CaptureError(err)
				}
			}
		}
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitFailure
	}

	return ExitSuccess
}

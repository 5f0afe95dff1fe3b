/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package main

import (
	"os"

	"github.com/Juice-Labs/session-proxy/cmd/internal/build"
	"github.com/Juice-Labs/session-proxy/cmd/session-proxy/app"
	"github.com/Juice-Labs/session-proxy/pkg/appmain"
	"github.com/Juice-Labs/session-proxy/pkg/task"
)

func main() {
	config := appmain.Config{
		Name:    "Session Proxy",
		Version: build.Version,
	}

	appmain.Run(config, func(group task.Group) error {
		daemonConfig, err := app.LoadConfig(app.CommandLine, os.LookupEnv)
		if err != nil {
			return err
		}

		daemon, err := app.NewDaemon(daemonConfig)
		if err != nil {
			return err
		}

		return daemon.Run(group)
	})
}

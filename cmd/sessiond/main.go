// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package main

import (
	"flag"

	"github.com/omec-project/sessiond/logger"
	"github.com/omec-project/sessiond/sessiond"
)

var configPath = flag.String("config", "sessiond.json", "path to sessiond config")

func main() {
	// cmdline args
	flag.Parse()

	// Read and parse json startup file.
	conf, err := sessiond.LoadConfigFile(*configPath)
	if err != nil {
		logger.AppLog.Fatalln("error reading conf file:", err)
	}

	logger.SetLogLevel(conf.LogLevel)

	svc, err := sessiond.NewService(conf, sessiond.NewLoggingCollaborators())
	if err != nil {
		logger.AppLog.Fatalln("could not build service:", err)
	}

	// blocking
	svc.Run()
}

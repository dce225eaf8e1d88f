package main

import (
	"context"
	"log"
	"os"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/services/rest"
	"github.com/trezcool/shule/storage/sessionstore"
)

func main() {
	defer os.Exit(0)

	conf := core.LoadConfig()
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds)

	var logger core.Logger
	if conf.Debug || conf.RollbarToken == "" {
		logger = logsvc.NewStdLogger(std)
	} else {
		logger = logsvc.NewRollbarLogger(std, conf)
	}

	// set up the session and revalidate whatever is persisted
	store := sessionstore.NewFileStore(conf.SessionFile)
	sess := session.NewService(conf, store, logger)
	if err := sess.Initialize(context.Background()); err != nil {
		logger.Fatal("initializing session", err)
	}

	backend := rest.NewClient(&rest.Options{
		BaseURL: conf.API.BaseURL,
		Timeout: conf.API.RequestTimeout,
		Tokens:  sess,
		Logger:  logger,
	})

	cli := commandLine{
		conf:    conf,
		sess:    sess,
		backend: backend,
		log:     logger,
		out:     os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

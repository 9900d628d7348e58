// Package main: tracker service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NodeSphereGL/Story-Dapp/lib/config"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg/amqp"
	"github.com/NodeSphereGL/Story-Dapp/lib/scan"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/db"
	"github.com/NodeSphereGL/Story-Dapp/tracker"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	log.Printf("Configuration:%+v", conf)

	// connect to database
	var dbConn store.DB

	if conf.DbConn != "" {
		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}

		log.Printf("Connecting to database:%+v\n", conf.DbConn)
	}

	// load explorer client
	sc := scan.New(conf.ScanURL, conf.ScanKey)
	log.Printf("Explorer client loaded for %s", conf.ScanURL)

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Println("Serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}

		defer func() {
			errClose := mb.Close()
			log.Printf("Closing messageBroker: %v", errClose)
		}()
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create tracker service and seed the dApp registry
	t := tracker.New(dbConn, sc, mb, conf.Network, conf.CutoffHours)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = t.EnsureDapps(ctx, conf.Dapps); err != nil {
		panic(err)
	}

	s := tracker.NewScheduler(t, time.Duration(conf.SyncMinutes)*time.Minute)

	// manage manual sync requests
	if err = s.ManageSyncReqs(); err != nil {
		log.Printf("Error setting up broker reader for sync requests:%v", err)
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// cancel the running cycle and let Run return
		cancel()
	}()

	// run scheduled crawl cycles until shutdown
	s.Run(ctx)

	if dbConn != nil {
		err = db.Close(conf.DbType, dbConn)
		log.Printf("Disconnecting %v database, err:%v\n", conf.DbType, err)
	}
}

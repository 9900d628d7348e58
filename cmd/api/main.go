// Package main: stats API service.
//
// Warning: The DB used by the microservice is read-only over the hourly buckets maintained by the
// tracker microservice, so it should be the same database the tracker writes to. The API never
// crawls the explorer itself; off-schedule crawls are requested through the message broker.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NodeSphereGL/Story-Dapp/lib/cache"
	"github.com/NodeSphereGL/Story-Dapp/lib/config"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/msg/amqp"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
	"github.com/NodeSphereGL/Story-Dapp/lib/store/db"
	"github.com/NodeSphereGL/Story-Dapp/stats"
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

	// connect to cache
	var ca cache.Cache

	if conf.CacheConn != "" {
		var rca *cache.Redis

		if rca, err = cache.NewRedis(conf.CacheConn); err != nil {
			panic(err)
		}

		ca = rca

		log.Printf("Connecting to cache:%+v\n", conf.CacheConn)
	}

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
	default:
		log.Printf("Unknown message broker type: %s\n", conf.MbType)
	}

	// create stats service
	s := stats.New(conf.DbType, dbConn, ca, mb, conf.Network, conf.ScanURL, conf.Production)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Println("Program killed !")
		// do last actions and wait for all write operations to end
		s.Stop()
		close(finish)
	}()

	// manage tracker run reports
	if err := s.ManageReports(); err != nil {
		log.Printf("Error setting up broker reader for run reports:%v", err)
	}

	// init RESTful API, wait for its return and log response
	log.Printf("Stats: %s\n", s.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}

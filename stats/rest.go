package stats

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/NodeSphereGL/Story-Dapp/lib/store/db"
)

const timeout = 15

// Init sets up and starts the http/https server to service the RESTful API for the stats service.
// If sslPort, sslCert and sslKey are informed, it will start an https (TLS) server on the
// specified endpoint.
func (s *Stats) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", s.homeHandler)
	r.HandleFunc("/health", s.healthHandler).Methods("GET")                 // service and store liveness
	r.HandleFunc("/api/dapps/stats", s.statsHandler).Methods("GET", "POST") // windowed dApp statistics
	r.HandleFunc("/api/dapps/sync", s.syncHandler).Methods("POST")          // request an off-schedule crawl
	http.Handle("/", r)

	// setup shutdown channel
	s.sc = make(chan struct{})

	// start http server
	if port != "" {
		s.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = s.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		s.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = s.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-s.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the
// connections to the message broker, the cache and the database.
func (s *Stats) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Second)
	defer cancel()

	if s.s != nil {
		if err := s.s.Shutdown(ctx); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	if s.ss != nil {
		if err := s.ss.Shutdown(ctx); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}

	close(s.sc) // close server channel to indicate shutdowns have finished

	if s.mb != nil {
		if err := s.mb.Close(); err != nil {
			log.Printf("Error closing message broker:%e", err)
		}
	}

	if s.ca != nil {
		if err := s.ca.Close(); err != nil {
			log.Printf("Error closing cache:%e", err)
		}
	}

	if s.db != nil {
		err := db.Close(s.dbtype, s.db)
		log.Printf("Disconnecting %v database, err:%v\n", s.dbtype, err)
	}
}

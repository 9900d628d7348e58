// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/NodeSphereGL/Story-Dapp/lib/msg"
	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.MsgBroker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - sr ("sync requests"): operator tooling publishes manual sync requests to this exchange
//
// - rr ("run reports"): the tracker publishes ingestion run summaries to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare("sr", "topic", true, false, false, false, nil); err != nil {
		return err
	}
	err = channel.ExchangeDeclare("rr", "topic", true, false, false, false, nil)
	return err
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// SendReport publishes an ingestion run summary to the "rr" exchange
func (r *Amqp) SendReport(net string, run store.RunResult) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(run); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-run-name": net + "." + run.Slug},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("rr", net+".run."+run.Slug, false, false, m); err != nil {
		log.Printf("[%s] Error sending run report to message broker %e", net, err)
	}
	return
}

// SendSyncReq publishes a new manual sync request to the "sr" exchange
func (r *Amqp) SendSyncReq(net string, sr msg.SyncReq) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(sr); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-sync-name": net},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("sr", net+".sync.request", false, false, m); err != nil {
		log.Printf("[%s] Error sending sync request to message broker %e", net, err)
	}
	return
}

// GetReports consumes run summaries from the "rr" exchange pushing them to the returned channel.
// The Mutex pointer is provided to ensure the consumed message has been fully dealt with by the
// management function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetReports(net string, mut *sync.Mutex) (<-chan store.RunResult, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("rr"+net, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("rr"+net, net+".*.*", "rr", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving reports
	msgs, errCons := r.ch.Consume("rr"+net, "stats-"+net, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	runs := make(chan store.RunResult)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var run *store.RunResult = new(store.RunResult)
			err := json.Unmarshal(m.Body, run)
			if err != nil {
				errors <- err
				continue
			}
			runs <- *run
			mut.Lock() // wait for the consumer to finish processing the report
			m.Ack(false)
		}
	}()
	return runs, errors, nil
}

// GetSyncReqs consumes manual sync requests from the "sr" exchange for the specified network
// pushing them to the returned channel. The Mutex pointer is provided to ensure the consumed
// message has been fully dealt with by the management function, so the message consumed is only
// acknowledged when the mutex is unlocked.
func (r *Amqp) GetSyncReqs(net string, mut *sync.Mutex) (<-chan msg.SyncReq, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("sr"+net, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("sr"+net, net+".*.*", "sr", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving requests
	msgs, errCons := r.ch.Consume("sr"+net, "tracker-"+net, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	reqs := make(chan msg.SyncReq)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var req *msg.SyncReq = new(msg.SyncReq)
			err := json.Unmarshal(m.Body, req)
			if err != nil {
				errors <- err
				continue
			}
			reqs <- *req
			mut.Lock() // wait for tracker to finish processing the request
			m.Ack(false)
		}
	}()
	return reqs, errors, nil
}

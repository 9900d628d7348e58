// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"

	"github.com/NodeSphereGL/Story-Dapp/lib/store"
)

// SyncReq defines the message published to ask the tracker to re-crawl a subset of dApps on
// demand, outside the scheduled cycle. An empty Slugs list means all active dApps.
type SyncReq struct {
	Network string   `json:"network"`
	Slugs   []string `json:"slugs"`
}

type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for operator tooling / stats service
	SendSyncReq(net string, r SyncReq) error
	GetReports(net string, mut *sync.Mutex) (<-chan store.RunResult, <-chan error, error)

	// methods for tracker service
	GetSyncReqs(net string, mut *sync.Mutex) (<-chan SyncReq, <-chan error, error)
	SendReport(net string, r store.RunResult) error
}

// Package dapptracker and its sub-packages implement the backend services that track on-chain
// activity for a set of decentralized applications and serve comparative usage analytics over it.
/*
Story-Dapp provides you with two microservices:

1) a tracker microservice (package tracker) that continuously crawls the ledger explorer for the
 transactions of every address linked to a tracked dApp, aggregates them into hourly buckets of
 transaction counts and exact distinct-user counts, and records a summary of every ingestion run.

2) a stats microservice (package stats) that exposes an HTTP RESTful API answering multi-window
 (24h / 7d / 30d) usage queries, each window compared against the immediately preceding window of
 equal length, optionally with the raw hourly sparkline series and its trend label.

Architecture

The tracker is the only writer of aggregated state. It pulls transactions through a rate-limited,
retrying explorer client (package lib/scan) and applies them to the aggregation store through a
database product agnostic interface (package lib/store) with PostgreSQL and MongoDB backends. A
scheduler fires one ingestion cycle at a fixed interval and guarantees cycles never overlap.

The stats service is purely read-side: it turns the stored hourly buckets into window sums,
percentage changes and trend classifications, and never mutates aggregated data. An optional Redis
cache (package lib/cache) sits in front of it for hot queries.

Both services communicate via a message broker (package lib/msg): the tracker publishes a report
after every ingestion run, and consumes manual sync requests so a subset of dApps can be re-crawled
on demand without waiting for the next scheduled cycle.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Tracker

The tracker microservice can be started running cmd/tracker/main.go. For each active dApp it
resolves the linked addresses from the explorer, walks every address's transaction history back to
the configured cutoff, and routes each accepted transaction into its UTC hour bucket. A transaction
hash is only applied once, so re-crawling an already ingested range is a no-op.

Stats

The stats microservice can be started running cmd/api/main.go. It serves POST and GET variants of
/api/dapps/stats for up to ten dApps per request, replying current and previous window totals for
transactions and unique users together with formatted counts and change percentages.
*/
package dapptracker

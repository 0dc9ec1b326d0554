// Package queue provides the task queue abstraction for corpus.
//
// A Queue accepts task submissions, leases them to workers with a
// visibility timeout, and records terminal outcomes. Delivery is
// at-least-once: a leased task whose worker never acks comes back after
// its visibility deadline, so handlers must tolerate redelivery.
//
// Two implementations exist: queue/durable persists tasks in BadgerDB and
// survives restarts; queue/broker keeps everything in process memory for
// tests and single-binary deployments that can afford to lose the backlog.
package queue

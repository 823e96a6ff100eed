package storage

import "github.com/jdziat/simple-lease-jobs/pkg/core"

// Redis key naming conventions. All keys share a prefix, "jobs:" by default.
//
//	{prefix}job:{id}          Hash    job record
//	{prefix}queue:{name}      List    ids of queued jobs, head is next
//	{prefix}wake:{name}       List    wake tokens for blocked leasers
//	{prefix}leases            ZSet    leased/running ids scored by expiry (unix ms)
//	{prefix}status:{status}   Set     ids per status
//	{prefix}seq               String  enqueue counter, orders jobs enqueued in the same millisecond
//	{prefix}kv:{key}          String  key-value surface

// DefaultKeyPrefix namespaces every key the Redis store writes.
const DefaultKeyPrefix = "jobs:"

// wakeListCap bounds the wake list. Tokens only need to outnumber blocked leasers.
const wakeListCap = 1024

type redisKeys struct {
	prefix string
}

func (k redisKeys) job(id string) string { return k.prefix + "job:" + id }

func (k redisKeys) queue(name string) string { return k.prefix + "queue:" + name }

func (k redisKeys) wake(name string) string { return k.prefix + "wake:" + name }

func (k redisKeys) seq() string { return k.prefix + "seq" }

func (k redisKeys) leases() string { return k.prefix + "leases" }

func (k redisKeys) status(s core.JobStatus) string { return k.prefix + "status:" + string(s) }

func (k redisKeys) kv(key string) string { return k.prefix + "kv:" + key }

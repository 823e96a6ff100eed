package storage

import "github.com/redis/go-redis/v9"

// Every multi-key state change is a single script so it runs atomically on
// the server. Scripts that touch per-job keys derive them from the prefix in
// ARGV, which ties the store to a single Redis node.
//
// Errors are returned as bare codes and mapped back in redisErr.
const (
	scriptErrDuplicate    = "DUPLICATE"
	scriptErrNotFound     = "NOT_FOUND"
	scriptErrTransition   = "TRANSITION"
	scriptErrLeaseExpired = "LEASE_EXPIRED"
)

// KEYS: job, queue, status:queued, wake, seq
// ARGV: id, wakeCap, field, value, field, value...
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('DUPLICATE')
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('HSET', KEYS[1], 'seq', redis.call('INCR', KEYS[5]))
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('RPUSH', KEYS[4], '1')
redis.call('LTRIM', KEYS[4], -tonumber(ARGV[2]), -1)
return 1
`)

// KEYS: queue lists in priority order
// ARGV: prefix, owner, now, expires
var leaseScript = redis.NewScript(`
local prefix = ARGV[1]
for i = 1, #KEYS do
  while true do
    local id = redis.call('LPOP', KEYS[i])
    if not id then
      break
    end
    local jk = prefix .. 'job:' .. id
    if redis.call('HGET', jk, 'status') == 'queued' then
      redis.call('HSET', jk, 'status', 'leased', 'lease_owner', ARGV[2], 'lease_expires_at', ARGV[4], 'updated_at', ARGV[3])
      redis.call('HINCRBY', jk, 'deliveries', 1)
      redis.call('SMOVE', prefix .. 'status:queued', prefix .. 'status:leased', id)
      redis.call('ZADD', prefix .. 'leases', ARGV[4], id)
      return redis.call('HGETALL', jk)
    end
  end
end
return false
`)

// KEYS: job
// ARGV: prefix, id, owner, now
var startScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'lease_owner', 'lease_expires_at')
if not st[1] then
  return redis.error_reply('NOT_FOUND')
end
if st[2] ~= ARGV[3] or (st[1] ~= 'leased' and st[1] ~= 'running') then
  return redis.error_reply('TRANSITION')
end
if (tonumber(st[3] or '') or 0) <= tonumber(ARGV[4]) then
  return redis.error_reply('LEASE_EXPIRED')
end
if st[1] == 'running' then
  return 1
end
redis.call('HSET', KEYS[1], 'status', 'running', 'updated_at', ARGV[4])
redis.call('HSETNX', KEYS[1], 'started_at', ARGV[4])
redis.call('SMOVE', ARGV[1] .. 'status:leased', ARGV[1] .. 'status:running', ARGV[2])
return 1
`)

// KEYS: job, leases
// ARGV: id, owner, now, expires
var extendScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'lease_owner', 'lease_expires_at')
if (st[1] ~= 'leased' and st[1] ~= 'running') or st[2] ~= ARGV[2] then
  return redis.error_reply('LEASE_EXPIRED')
end
if (tonumber(st[3] or '') or 0) <= tonumber(ARGV[3]) then
  return redis.error_reply('LEASE_EXPIRED')
end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[4], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
return 1
`)

// KEYS: job, leases
// ARGV: prefix, id, owner, now, status, field, value
var finishScript = redis.NewScript(`
local st = redis.call('HMGET', KEYS[1], 'status', 'lease_owner')
if not st[1] then
  return redis.error_reply('NOT_FOUND')
end
if (st[1] ~= 'leased' and st[1] ~= 'running') or st[2] ~= ARGV[3] then
  return redis.error_reply('TRANSITION')
end
redis.call('HSET', KEYS[1], 'status', ARGV[5], ARGV[6], ARGV[7], 'finished_at', ARGV[4], 'updated_at', ARGV[4], 'lease_owner', '')
redis.call('HDEL', KEYS[1], 'lease_expires_at')
redis.call('HSETNX', KEYS[1], 'started_at', ARGV[4])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('SMOVE', ARGV[1] .. 'status:' .. st[1], ARGV[1] .. 'status:' .. ARGV[5], ARGV[2])
return 1
`)

// KEYS: leases
// ARGV: prefix, now, limit, wakeCap
var reapScript = redis.NewScript(`
local prefix = ARGV[1]
local now = tonumber(ARGV[2])
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
  local jk = prefix .. 'job:' .. id
  local st = redis.call('HMGET', jk, 'status', 'lease_expires_at', 'queue')
  local leased = st[1] == 'leased' or st[1] == 'running'
  local exp = tonumber(st[2] or '')
  if leased and exp and exp <= now then
    redis.call('HSET', jk, 'status', 'queued', 'lease_owner', '', 'updated_at', ARGV[2])
    redis.call('HDEL', jk, 'lease_expires_at')
    redis.call('SMOVE', prefix .. 'status:' .. st[1], prefix .. 'status:queued', id)
    redis.call('RPUSH', prefix .. 'queue:' .. st[3], id)
    redis.call('RPUSH', prefix .. 'wake:' .. st[3], '1')
    redis.call('LTRIM', prefix .. 'wake:' .. st[3], -tonumber(ARGV[4]), -1)
    redis.call('ZREM', KEYS[1], id)
    table.insert(out, id)
  elseif leased and exp then
    redis.call('ZADD', KEYS[1], exp, id)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return out
`)

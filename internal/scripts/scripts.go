// Package scripts holds every Lua script that mutates more than one key.
//
// Redis executes a script as a single unit, so each multi-key invariant
// (enqueue dual-write, dequeue dual-remove plus lease, retry scheduling,
// dead-letter bookkeeping, rate-limit increment with rollback) is a script
// rather than a sequence of round trips.
//
// Scripts resolve tenant-scoped keys from the owner locator at run time, which
// requires a single-shard deployment. Key shapes must match internal/keys.
package scripts

import "github.com/redis/go-redis/v9"

// helpers is prepended to every queue script.
const helpers = `
local function task_key(ns, tid, id) return ns .. 'tenant:' .. tid .. ':task:data:' .. id end
local function owner_key(ns, id) return ns .. 'task:owner:' .. id end
local function pending_key(ns, tid, ttype) return ns .. 'tenant:' .. tid .. ':queue:pending:' .. ttype end
local function queue_key(ns, ttype, suffix) return ns .. 'queue:' .. ttype .. ':' .. suffix end

-- score = (5 - priority) * 1e13 + seq; lower pops first.
local function ready_score(ns, priority)
  local p = tonumber(priority) or 2
  local seq = redis.call('INCR', ns .. 'queue:seq')
  return string.format('%.0f', (5 - p) * 1e13 + seq)
end

local function make_ready(ns, tid, ttype, id, priority)
  local score = ready_score(ns, priority)
  redis.call('ZADD', queue_key(ns, ttype, 'priority'), score, id)
  redis.call('ZADD', pending_key(ns, tid, ttype), score, id)
end

local function expire_terminal(ns, tk, id, retention)
  if tonumber(retention) > 0 then
    redis.call('PEXPIRE', tk, retention)
    redis.call('PEXPIRE', owner_key(ns, id), retention)
  end
end
`

// Enqueue writes the task hash and owner locator and makes the task ready
// (global + tenant ZSET) or delayed. Returns 1, or 0 when the id is taken by
// a live task or by another tenant.
//
// KEYS: task hash, owner
// ARGV: ns, id, tenant, type, priority, payload, max_attempts, scheduled_at, now, correlation_id
var Enqueue = redis.NewScript(helpers + `
local ns, id, tid, ttype = ARGV[1], ARGV[2], ARGV[3], ARGV[4]
local owner = redis.call('GET', KEYS[2])
if owner and owner ~= tid then return 0 end
local st = redis.call('HGET', KEYS[1], 'status')
if st and st ~= 'completed' and st ~= 'failed' and st ~= 'cancelled' and st ~= 'dead_letter' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'id', id, 'tenant_id', tid, 'type', ttype, 'priority', ARGV[5],
  'payload', ARGV[6], 'status', 'queued', 'max_attempts', ARGV[7], 'attempts', '0',
  'scheduled_at', ARGV[8], 'created_at', ARGV[9], 'correlation_id', ARGV[10])
redis.call('SET', KEYS[2], tid)
redis.call('SADD', ns .. 'queue:types', ttype)
redis.call('SADD', ns .. 'queue:tenants', tid)
redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'enqueued', 1)
if tonumber(ARGV[8]) > tonumber(ARGV[9]) then
  redis.call('ZADD', queue_key(ns, ttype, 'delayed'), ARGV[8], id)
else
  make_ready(ns, tid, ttype, id, ARGV[5])
end
return 1
`)

// Dequeue promotes due delayed tasks, then pops the head of the tenant ZSET
// (when a tenant is preferred and has work) or of the global ZSET, removes
// the id from the other structure, and leases it to the worker. Returns the
// task hash as a flat field/value array, or nil when nothing is ready.
//
// KEYS: global priority, delayed, running, tenant pending (or global priority)
// ARGV: ns, type, worker_id, now, preferred tenant or "", promote limit
var Dequeue = redis.NewScript(helpers + `
local ns, ttype, worker, now, pref = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, tonumber(ARGV[6]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  local tid = redis.call('GET', owner_key(ns, id))
  if tid then
    local tk = task_key(ns, tid, id)
    local st = redis.call('HGET', tk, 'status')
    if st == 'queued' or st == 'retrying' then
      make_ready(ns, tid, ttype, id, redis.call('HGET', tk, 'priority'))
      redis.call('HSET', tk, 'status', 'queued')
    end
  end
end
for _ = 1, 32 do
  local src = KEYS[1]
  local head = {}
  if pref ~= '' then
    head = redis.call('ZRANGE', KEYS[4], 0, 0)
    if head[1] then src = KEYS[4] end
  end
  if src == KEYS[1] then
    head = redis.call('ZRANGE', KEYS[1], 0, 0)
  end
  local id = head[1]
  if not id then return false end
  redis.call('ZREM', src, id)
  redis.call('ZREM', KEYS[1], id)
  local tid = redis.call('GET', owner_key(ns, id))
  if tid then
    redis.call('ZREM', pending_key(ns, tid, ttype), id)
    local tk = task_key(ns, tid, id)
    local st = redis.call('HGET', tk, 'status')
    if st == 'queued' or st == 'retrying' then
      redis.call('HSET', tk, 'status', 'running', 'worker_id', worker, 'started_at', now)
      redis.call('ZADD', KEYS[3], now, id)
      return redis.call('HGETALL', tk)
    end
  end
end
return false
`)

// Complete moves a leased task to completed. Returns {1, type, tenant,
// started_at}, or {0} when the task is missing, not running, or leased by
// another worker.
//
// KEYS: owner
// ARGV: ns, id, worker_id, now, result, retention_ms
var Complete = redis.NewScript(helpers + `
local ns, id = ARGV[1], ARGV[2]
local tid = redis.call('GET', KEYS[1])
if not tid then return {0} end
local tk = task_key(ns, tid, id)
if redis.call('HGET', tk, 'status') ~= 'running' then return {0} end
if redis.call('HGET', tk, 'worker_id') ~= ARGV[3] then return {0} end
local ttype = redis.call('HGET', tk, 'type')
local started = redis.call('HGET', tk, 'started_at') or '0'
redis.call('HSET', tk, 'status', 'completed', 'completed_at', ARGV[4], 'result', ARGV[5])
redis.call('ZREM', queue_key(ns, ttype, 'running'), id)
redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'completed', 1)
expire_terminal(ns, tk, id, ARGV[6])
return {1, ttype, tid, started}
`)

// Fail records a failed attempt. With budget left and retry allowed the task
// becomes retrying and is scheduled at now + min(base * 2^attempts, max);
// otherwise it becomes failed and is added to the type's dead-letter handoff
// set until DeadLetterAdd records it. Returns {code, attempts, type, tenant}:
// code 0 no-op, 1 retrying, 2 failed.
//
// KEYS: owner
// ARGV: ns, id, worker_id, now, error, retry ("1"/"0"), base_ms, max_ms, retention_ms
var Fail = redis.NewScript(helpers + `
local ns, id, now = ARGV[1], ARGV[2], tonumber(ARGV[4])
local tid = redis.call('GET', KEYS[1])
if not tid then return {0, 0, '', ''} end
local tk = task_key(ns, tid, id)
if redis.call('HGET', tk, 'status') ~= 'running' then return {0, 0, '', ''} end
if redis.call('HGET', tk, 'worker_id') ~= ARGV[3] then return {0, 0, '', ''} end
local ttype = redis.call('HGET', tk, 'type')
local attempts = tonumber(redis.call('HGET', tk, 'attempts') or '0') + 1
local max_attempts = tonumber(redis.call('HGET', tk, 'max_attempts') or '1')
redis.call('ZREM', queue_key(ns, ttype, 'running'), id)
redis.call('HSET', tk, 'attempts', attempts, 'last_error', ARGV[5], 'last_error_at', ARGV[4])
if ARGV[6] == '1' and attempts < max_attempts then
  local delay = tonumber(ARGV[7]) * (2 ^ attempts)
  if delay > tonumber(ARGV[8]) then delay = tonumber(ARGV[8]) end
  local due = string.format('%.0f', now + delay)
  redis.call('HSET', tk, 'status', 'retrying', 'scheduled_at', due, 'worker_id', '')
  redis.call('ZADD', queue_key(ns, ttype, 'delayed'), due, id)
  redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'retried', 1)
  return {1, attempts, ttype, tid}
end
redis.call('HSET', tk, 'status', 'failed', 'completed_at', ARGV[4])
redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'failed', 1)
redis.call('ZADD', queue_key(ns, ttype, 'deadletter:pending'), ARGV[4], id)
expire_terminal(ns, tk, id, ARGV[9])
return {2, attempts, ttype, tid}
`)

// Cancel removes a queued/retrying task from every structure, or flags a
// running one. Returns {code, type, tenant}: code 0 no-op, 1 cancelled while
// queued, 2 cancelled while running.
//
// KEYS: owner
// ARGV: ns, id, now, retention_ms
var Cancel = redis.NewScript(helpers + `
local ns, id = ARGV[1], ARGV[2]
local tid = redis.call('GET', KEYS[1])
if not tid then return {0, '', ''} end
local tk = task_key(ns, tid, id)
local st = redis.call('HGET', tk, 'status')
local ttype = redis.call('HGET', tk, 'type')
if not ttype then return {0, '', ''} end
if st == 'queued' or st == 'retrying' then
  redis.call('ZREM', queue_key(ns, ttype, 'priority'), id)
  redis.call('ZREM', queue_key(ns, ttype, 'delayed'), id)
  redis.call('ZREM', pending_key(ns, tid, ttype), id)
elseif st == 'running' then
  redis.call('ZREM', queue_key(ns, ttype, 'running'), id)
else
  return {0, ttype, tid}
end
redis.call('HSET', tk, 'status', 'cancelled', 'completed_at', ARGV[3])
redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'cancelled', 1)
expire_terminal(ns, tk, id, ARGV[4])
if st == 'running' then return {2, ttype, tid} end
return {1, ttype, tid}
`)

// Reclaim takes tasks whose lease started before the cutoff out of running:
// re-queued while attempts remain, failed (and queued for dead-letter
// handoff) otherwise. Returns a flat array of
// {id, "requeued"|"failed", previous worker} triples.
//
// KEYS: running
// ARGV: ns, type, cutoff, now, retention_ms, limit
var Reclaim = redis.NewScript(helpers + `
local ns, ttype, now = ARGV[1], ARGV[2], ARGV[4]
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[3], 'LIMIT', 0, tonumber(ARGV[6]))
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local tid = redis.call('GET', owner_key(ns, id))
  if tid then
    local tk = task_key(ns, tid, id)
    if redis.call('HGET', tk, 'status') == 'running' then
      local worker = redis.call('HGET', tk, 'worker_id') or ''
      local attempts = tonumber(redis.call('HGET', tk, 'attempts') or '0') + 1
      local max_attempts = tonumber(redis.call('HGET', tk, 'max_attempts') or '1')
      redis.call('HSET', tk, 'attempts', attempts, 'last_error', 'lease expired', 'last_error_at', now)
      if attempts < max_attempts then
        redis.call('HSET', tk, 'status', 'queued', 'worker_id', '')
        make_ready(ns, tid, ttype, id, redis.call('HGET', tk, 'priority'))
        redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'reclaimed', 1)
        table.insert(out, id)
        table.insert(out, 'requeued')
      else
        redis.call('HSET', tk, 'status', 'failed', 'completed_at', now)
        redis.call('HINCRBY', queue_key(ns, ttype, 'stats'), 'failed', 1)
        redis.call('ZADD', queue_key(ns, ttype, 'deadletter:pending'), now, id)
        expire_terminal(ns, tk, id, ARGV[5])
        table.insert(out, id)
        table.insert(out, 'failed')
      end
      table.insert(out, worker)
    end
  end
end
return out
`)

// FixedWindow increments a windowed counter by cost unless that would pass
// the limit, in which case nothing is consumed. Returns {allowed, count, ttl_ms}.
//
// KEYS: counter
// ARGV: limit, window_ms, cost
var FixedWindow = redis.NewScript(`
local limit, window, cost = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3])
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current + cost > limit then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl == -1 then
    redis.call('PEXPIRE', KEYS[1], window)
    ttl = window
  end
  if ttl < 0 then ttl = window end
  return {0, current, ttl}
end
local n = redis.call('INCRBY', KEYS[1], cost)
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {1, n, ttl}
`)

// SlidingWindow keeps a log of request timestamps; entries at or older than
// now - window are dropped first. Returns {allowed, count, reset_ms}.
//
// KEYS: log
// ARGV: limit, window_ms, cost, now, nonce
var SlidingWindow = redis.NewScript(`
local limit, window, cost, now = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local current = redis.call('ZCARD', KEYS[1])
local function reset_in()
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  if oldest[2] then
    local r = tonumber(oldest[2]) + window - now
    if r > 0 then return r end
  end
  return window
end
if current + cost > limit then
  return {0, current, reset_in()}
end
for i = 1, cost do
  redis.call('ZADD', KEYS[1], now, ARGV[5] .. ':' .. i)
end
redis.call('PEXPIRE', KEYS[1], window)
return {1, current + cost, reset_in()}
`)

// DeadLetterAdd stores (or replaces) a dead-letter record, keeps the first
// failure time of a replaced record, indexes it, adjusts aggregate stats and
// clears the task from the dead-letter handoff set.
//
// KEYS: record, index, stats, handoff
// ARGV: task_id, failed_at_ms, category, severity, field/value pairs...
var DeadLetterAdd = redis.NewScript(`
local first = false
if redis.call('EXISTS', KEYS[1]) == 1 then
  local oc = redis.call('HGET', KEYS[1], 'category')
  local osev = redis.call('HGET', KEYS[1], 'severity')
  first = redis.call('HGET', KEYS[1], 'first_failed_at')
  redis.call('HINCRBY', KEYS[3], 'count', -1)
  if oc then redis.call('HINCRBY', KEYS[3], 'category:' .. oc, -1) end
  if osev then redis.call('HINCRBY', KEYS[3], 'severity:' .. osev, -1) end
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
if first then redis.call('HSET', KEYS[1], 'first_failed_at', first) end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HINCRBY', KEYS[3], 'count', 1)
redis.call('HINCRBY', KEYS[3], 'category:' .. ARGV[3], 1)
redis.call('HINCRBY', KEYS[3], 'severity:' .. ARGV[4], 1)
redis.call('ZREM', KEYS[4], ARGV[1])
return 1
`)

// DeadLetterRemove deletes a record owned by the tenant. Returns 1 removed,
// 0 missing, -1 when the embedded tenant differs.
//
// KEYS: record, index, stats
// ARGV: task_id, tenant
var DeadLetterRemove = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('ZREM', KEYS[2], ARGV[1])
  return 0
end
if redis.call('HGET', KEYS[1], 'tenant_id') ~= ARGV[2] then return -1 end
local c = redis.call('HGET', KEYS[1], 'category')
local s = redis.call('HGET', KEYS[1], 'severity')
redis.call('HINCRBY', KEYS[3], 'count', -1)
if c then redis.call('HINCRBY', KEYS[3], 'category:' .. c, -1) end
if s then redis.call('HINCRBY', KEYS[3], 'severity:' .. s, -1) end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// All lists every script for preloading with SCRIPT LOAD.
func All() []*redis.Script {
	return []*redis.Script{
		Enqueue, Dequeue, Complete, Fail, Cancel, Reclaim,
		FixedWindow, SlidingWindow, DeadLetterAdd, DeadLetterRemove,
	}
}

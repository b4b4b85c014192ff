package acs

// Lua scripts executed server-side via EVAL. Each is the atomic surface
// for one operation: a closed set of named scripts, each transactionally
// atomic against every key it touches. total/reserved are tracked as
// separate fields (rather than a single "available" counter), keyed by
// the cart_id:sku hold-id scheme and an expiry zset; a repeat RESERVE
// with a mismatched qty is a conflict rather than a silent overwrite.

const reserveScript = `
-- KEYS[1] = inv:{sku}        KEYS[2] = hold:{cart_id}:{sku}
-- KEYS[3] = holds:exp        KEYS[4] = events stream
-- ARGV[1] = sku  ARGV[2] = cart_id  ARGV[3] = qty  ARGV[4] = ttl_ms
-- ARGV[5] = now_ms  ARGV[6] = hold member ("cart_id:sku")  ARGV[7] = events enabled
local qty = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local member = ARGV[6]

if redis.call('EXISTS', KEYS[2]) == 1 then
  local existingQty = tonumber(redis.call('HGET', KEYS[2], 'qty'))
  if existingQty ~= qty then
    return cjson.encode({ok=false, err='conflict', existing_qty=existingQty})
  end
  local newExpiry = now + ttl
  redis.call('HSET', KEYS[2], 'expires_at', newExpiry)
  redis.call('ZADD', KEYS[3], newExpiry, member)
  if ARGV[7] == '1' then
    redis.call('XADD', KEYS[4], '*', 'kind', 'hold_created', 'sku', ARGV[1],
      'cart_id', ARGV[2], 'qty', tostring(qty), 'ts', tostring(now), 'reason', 'idempotent')
  end
  local totals = redis.call('HMGET', KEYS[1], 'total', 'reserved')
  local total = tonumber(totals[1]) or 0
  local reserved = tonumber(totals[2]) or 0
  return cjson.encode({ok=true, idempotent=true, hold_id=member, expires_at=newExpiry,
    available_after=total-reserved})
end

local totals = redis.call('HMGET', KEYS[1], 'total', 'reserved')
local total = tonumber(totals[1]) or 0
local reserved = tonumber(totals[2]) or 0
local available = total - reserved
if available < qty then
  return cjson.encode({ok=false, err='insufficient', available=available})
end

local newReserved = reserved + qty
redis.call('HSET', KEYS[1], 'reserved', newReserved)
local expiry = now + ttl
redis.call('HSET', KEYS[2], 'qty', qty, 'expires_at', expiry, 'created_at', now)
redis.call('ZADD', KEYS[3], expiry, member)
if ARGV[7] == '1' then
  redis.call('XADD', KEYS[4], '*', 'kind', 'hold_created', 'sku', ARGV[1],
    'cart_id', ARGV[2], 'qty', tostring(qty), 'ts', tostring(now), 'reason', '')
end
return cjson.encode({ok=true, idempotent=false, hold_id=member, expires_at=expiry,
  available_after=total-newReserved})
`

const extendScript = `
-- KEYS[1] = hold:{cart_id}:{sku}  KEYS[2] = holds:exp  KEYS[3] = events stream
-- ARGV[1] = sku  ARGV[2] = cart_id  ARGV[3] = add_ms  ARGV[4] = now_ms
-- ARGV[5] = hold member  ARGV[6] = events enabled
if redis.call('EXISTS', KEYS[1]) == 0 then
  return cjson.encode({ok=false, err='not_found'})
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
local now = tonumber(ARGV[4])
local add = tonumber(ARGV[3])
local base = cur
if now > base then base = now end
local newExpiry = base + add
redis.call('HSET', KEYS[1], 'expires_at', newExpiry)
redis.call('ZADD', KEYS[2], newExpiry, ARGV[5])
if ARGV[6] == '1' then
  redis.call('XADD', KEYS[3], '*', 'kind', 'hold_extended', 'sku', ARGV[1],
    'cart_id', ARGV[2], 'qty', '0', 'ts', tostring(now), 'reason', '')
end
return cjson.encode({ok=true, new_expires_at=newExpiry})
`

const commitLocalScript = `
-- KEYS[1] = inv:{sku}  KEYS[2] = hold:{cart_id}:{sku}
-- KEYS[3] = holds:exp  KEYS[4] = events stream
-- ARGV[1] = sku  ARGV[2] = cart_id  ARGV[3] = now_ms
-- ARGV[4] = hold member  ARGV[5] = events enabled
if redis.call('EXISTS', KEYS[2]) == 0 then
  return cjson.encode({ok=false, err='not_found'})
end
local qty = tonumber(redis.call('HGET', KEYS[2], 'qty')) or 0
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved')) or 0
local newReserved = reserved - qty
if newReserved < 0 then newReserved = 0 end
redis.call('HSET', KEYS[1], 'reserved', newReserved)
redis.call('ZREM', KEYS[3], ARGV[4])
redis.call('DEL', KEYS[2])
if ARGV[5] == '1' then
  redis.call('XADD', KEYS[4], '*', 'kind', 'hold_committed', 'sku', ARGV[1],
    'cart_id', ARGV[2], 'qty', tostring(qty), 'ts', ARGV[3], 'reason', '')
end
return cjson.encode({ok=true, consumed_qty=qty})
`

const releaseScript = `
-- KEYS[1] = inv:{sku}  KEYS[2] = hold:{cart_id}:{sku}
-- KEYS[3] = holds:exp  KEYS[4] = events stream
-- ARGV[1] = sku  ARGV[2] = cart_id  ARGV[3] = now_ms
-- ARGV[4] = hold member  ARGV[5] = events enabled  ARGV[6] = reason
if redis.call('EXISTS', KEYS[2]) == 0 then
  return cjson.encode({ok=true, absent=true})
end
local qty = tonumber(redis.call('HGET', KEYS[2], 'qty')) or 0
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved')) or 0
local newReserved = reserved - qty
if newReserved < 0 then newReserved = 0 end
redis.call('HSET', KEYS[1], 'reserved', newReserved)
redis.call('ZREM', KEYS[3], ARGV[4])
redis.call('DEL', KEYS[2])
if ARGV[5] == '1' then
  redis.call('XADD', KEYS[4], '*', 'kind', 'hold_released', 'sku', ARGV[1],
    'cart_id', ARGV[2], 'qty', tostring(qty), 'ts', ARGV[3], 'reason', ARGV[6])
end
return cjson.encode({ok=true, released_qty=qty})
`

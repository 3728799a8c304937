package scenario

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/giantswarm/muster-scenario-core/internal/store"
)

// This file defines the compound operations that must each execute as a
// single linearisation point (publication, claim, succeed, fail, reclaim) as
// named server-side scripts. Each has two implementations that must stay
// behaviourally identical: a Lua source string sent to a real Redis/Valkey
// server via EVALSHA/EVAL, and a Go ScriptHandler that runs the same logic
// under store.MemStore's single lock for fast, server-less unit and property
// tests. Neither implementation is a stub for the other: both do the real
// read-modify-write.

const (
	scriptNamePublish = "muster_scenario_publish"
	scriptNameClaim   = "muster_scenario_claim_transition"
	scriptNameSucceed = "muster_scenario_succeed"
	scriptNameFail    = "muster_scenario_fail"
	scriptNameReclaim = "muster_scenario_reclaim"
)

// publishPayload is the JSON value carried in the publish script's single
// ARGV entry: everything the Graph Publisher needs written in one
// linearisation point.
type publishPayload struct {
	ScenarioKey string             `json:"scenario_key"`
	Scenario    map[string]string  `json:"scenario"`
	Tasks       []publishTaskEntry `json:"tasks"`
}

type publishTaskEntry struct {
	Key     string            `json:"key"`
	ID      string            `json:"id"`
	Service string            `json:"service"`
	Ready   bool              `json:"ready"`
	Fields  map[string]string `json:"fields"`
}

var publishScript = store.Script{
	Name: scriptNamePublish,
	Source: `
local payload = cjson.decode(ARGV[1])
for _, t in ipairs(payload.tasks) do
  for k, v in pairs(t.fields) do
    redis.call('HSET', t.key, k, v)
  end
end
local scenarioKV = {}
for k, v in pairs(payload.scenario) do
  table.insert(scenarioKV, k)
  table.insert(scenarioKV, v)
end
redis.call('HSET', payload.scenario_key, unpack(scenarioKV))
for _, t in ipairs(payload.tasks) do
  if t.ready then
    redis.call('RPUSH', 'queue:' .. t.service, t.id)
  end
end
return {'OK'}
`,
}

func publishHandler(m *store.MemStore, keys []string, args []string) ([]string, error) {
	var payload publishPayload
	if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
		return nil, err
	}
	for _, t := range payload.Tasks {
		m.HashSetLocked(t.Key, t.Fields)
	}
	m.HashSetLocked(payload.ScenarioKey, payload.Scenario)
	for _, t := range payload.Tasks {
		if t.Ready {
			m.RPushLocked(queueKey(t.Service), t.ID)
		}
	}
	return []string{"OK"}, nil
}

// claimTransitionScript transitions QUEUED -> PROCESSING and records the
// claim time in the processing index (KEYS[2]) so internal/janitor can find
// it later without scanning every task key.
var claimTransitionScript = store.Script{
	Name: scriptNameClaim,
	Source: `
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'QUEUED' then
  return {'STALE'}
end
redis.call('HSET', KEYS[1], 'status', 'PROCESSING', 'updated_at', ARGV[1])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
return {'OK'}
`,
}

func claimTransitionHandler(m *store.MemStore, keys []string, args []string) ([]string, error) {
	fields, ok := m.HashGetAllLocked(keys[0])
	if !ok || fields["status"] != "QUEUED" {
		return []string{"STALE"}, nil
	}
	m.HashSetLocked(keys[0], map[string]string{"status": "PROCESSING", "updated_at": args[0]})
	m.HashSetLocked(keys[1], map[string]string{args[1]: args[0]})
	return []string{"OK"}, nil
}

var succeedScript = store.Script{
	Name: scriptNameSucceed,
	Source: `
local taskKey = KEYS[1]
local processingIndexKey = KEYS[2]
local taskID = ARGV[1]
local resultRef = ARGV[2]
local now = ARGV[3]

local status = redis.call('HGET', taskKey, 'status')
if status ~= 'PROCESSING' then
  return {'INVALID_TRANSITION'}
end

redis.call('HSET', taskKey, 'status', 'SUCCESS', 'result_ref', resultRef, 'updated_at', now)
redis.call('HDEL', processingIndexKey, taskID)

local consumersJSON = redis.call('HGET', taskKey, 'consumers')
if not consumersJSON or consumersJSON == '' or consumersJSON == 'null' then
  consumersJSON = '[]'
end
local consumers = cjson.decode(consumersJSON)
local enqueued = {}
for _, cid in ipairs(consumers) do
  local ckey = 'task:' .. cid
  local cstatus = redis.call('HGET', ckey, 'status')
  if cstatus == 'PENDING' then
    local pending = tonumber(redis.call('HGET', ckey, 'pending_count')) - 1
    redis.call('HSET', ckey, 'pending_count', pending)
    if pending <= 0 then
      local service = redis.call('HGET', ckey, 'service')
      redis.call('HSET', ckey, 'status', 'QUEUED', 'updated_at', now)
      redis.call('RPUSH', 'queue:' .. service, cid)
      table.insert(enqueued, cid)
    end
  end
end
return {'OK', cjson.encode(enqueued)}
`,
}

func succeedHandler(m *store.MemStore, keys []string, args []string) ([]string, error) {
	taskKeyStr, processingIndexKeyStr := keys[0], keys[1]
	taskID, resultRef, now := args[0], args[1], args[2]

	fields, ok := m.HashGetAllLocked(taskKeyStr)
	if !ok || fields["status"] != "PROCESSING" {
		return []string{"INVALID_TRANSITION"}, nil
	}

	m.HashSetLocked(taskKeyStr, map[string]string{
		"status":     "SUCCESS",
		"result_ref": resultRef,
		"updated_at": now,
	})
	m.HashDeleteLocked(processingIndexKeyStr, taskID)

	var consumers []string
	if raw := fields["consumers"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &consumers); err != nil {
			return nil, err
		}
	}

	var enqueued []string
	for _, cid := range consumers {
		ckey := taskKey(cid)
		cfields, ok := m.HashGetAllLocked(ckey)
		if !ok || cfields["status"] != "PENDING" {
			continue
		}
		pending, err := strconv.Atoi(cfields["pending_count"])
		if err != nil {
			return nil, err
		}
		pending--
		updates := map[string]string{"pending_count": strconv.Itoa(pending)}
		if pending <= 0 {
			updates["status"] = "QUEUED"
			updates["updated_at"] = now
		}
		m.HashSetLocked(ckey, updates)
		if pending <= 0 {
			m.RPushLocked(queueKey(cfields["service"]), cid)
			enqueued = append(enqueued, cid)
		}
	}

	sort.Strings(enqueued)
	enqueuedJSON, err := json.Marshal(enqueued)
	if err != nil {
		return nil, err
	}
	return []string{"OK", string(enqueuedJSON)}, nil
}

var failScript = store.Script{
	Name: scriptNameFail,
	Source: `
local taskKey = KEYS[1]
local processingIndexKey = KEYS[2]
local taskID = ARGV[1]
local errMsg = ARGV[2]
local now = ARGV[3]

local status = redis.call('HGET', taskKey, 'status')
if status ~= 'PROCESSING' then
  return {'INVALID_TRANSITION'}
end

redis.call('HSET', taskKey, 'status', 'FAILED', 'error', errMsg, 'updated_at', now)
redis.call('HDEL', processingIndexKey, taskID)
return {'OK'}
`,
}

func failHandler(m *store.MemStore, keys []string, args []string) ([]string, error) {
	taskKeyStr, processingIndexKeyStr := keys[0], keys[1]
	taskID, errMsg, now := args[0], args[1], args[2]

	fields, ok := m.HashGetAllLocked(taskKeyStr)
	if !ok || fields["status"] != "PROCESSING" {
		return []string{"INVALID_TRANSITION"}, nil
	}
	m.HashSetLocked(taskKeyStr, map[string]string{
		"status":     "FAILED",
		"error":      errMsg,
		"updated_at": now,
	})
	m.HashDeleteLocked(processingIndexKeyStr, taskID)
	return []string{"OK"}, nil
}

// reclaimErrMsg is the synthetic error recorded on a task the janitor
// reclaims after it sat in PROCESSING past the configured horizon.
const reclaimErrMsg = "reclaimed by janitor: processing timeout exceeded"

// reclaimScript is internal/janitor's reaper primitive: if taskID is still
// PROCESSING (it may have succeeded/failed between the janitor's index scan
// and this call), transition it to FAILED with a synthetic timeout error and
// drop it from the processing index, leaving consumers untouched. Returns
// STALE if the task resolved in the meantime, so the janitor does not
// double-count it.
var reclaimScript = store.Script{
	Name: scriptNameReclaim,
	Source: `
local taskKey = KEYS[1]
local processingIndexKey = KEYS[2]
local taskID = ARGV[1]
local now = ARGV[2]
local errMsg = ARGV[3]

local status = redis.call('HGET', taskKey, 'status')
if status ~= 'PROCESSING' then
  redis.call('HDEL', processingIndexKey, taskID)
  return {'STALE'}
end

redis.call('HSET', taskKey, 'status', 'FAILED', 'error', errMsg, 'updated_at', now)
redis.call('HDEL', processingIndexKey, taskID)
return {'OK'}
`,
}

func reclaimHandler(m *store.MemStore, keys []string, args []string) ([]string, error) {
	taskKeyStr, processingIndexKeyStr := keys[0], keys[1]
	taskID, now, errMsg := args[0], args[1], args[2]

	fields, ok := m.HashGetAllLocked(taskKeyStr)
	if !ok || fields["status"] != "PROCESSING" {
		m.HashDeleteLocked(processingIndexKeyStr, taskID)
		return []string{"STALE"}, nil
	}
	m.HashSetLocked(taskKeyStr, map[string]string{"status": "FAILED", "error": errMsg, "updated_at": now})
	m.HashDeleteLocked(processingIndexKeyStr, taskID)
	return []string{"OK"}, nil
}

// RegisterScripts installs every script's Go implementation onto m, so unit
// and property tests exercise the real fan-out/claim/publish logic instead of
// a stub. Production code paths always go through the same Dispatch/Publisher
// calls against a ValkeyStore, which instead sends the Lua sources above.
func RegisterScripts(m *store.MemStore) {
	m.RegisterScript(scriptNamePublish, publishHandler)
	m.RegisterScript(scriptNameClaim, claimTransitionHandler)
	m.RegisterScript(scriptNameSucceed, succeedHandler)
	m.RegisterScript(scriptNameFail, failHandler)
	m.RegisterScript(scriptNameReclaim, reclaimHandler)
}

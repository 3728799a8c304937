package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/giantswarm/muster-scenario-core/pkg/logging"
)

// ValkeyStore is the production Store backend, talking to any RESP2/3
// server (Redis or Valkey) over github.com/valkey-io/valkey-go.
type ValkeyStore struct {
	client valkey.Client
	sha    map[string]string // script name -> SHA1, populated lazily on first RunScript call
}

// NewValkeyStore dials the given connection string (host:port, comma
// separated for a cluster) and returns a ready Store.
func NewValkeyStore(url string) (*ValkeyStore, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		// ParseURL expects a redis:// URL; fall back to treating the
		// value as a bare address list, matching STORE_URL's simpler
		// "host:port" contract documented in the external interfaces.
		opt = valkey.ClientOption{InitAddress: strings.Split(url, ",")}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connecting to store at %s: %w", url, err)
	}
	logging.Info("Store", "connected to valkey store at %s", url)
	return &ValkeyStore{client: client, sha: make(map[string]string)}, nil
}

func (s *ValkeyStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	cmd := s.client.B().Hset().Key(key).FieldValue()
	for f, v := range fields {
		cmd = cmd.FieldValue(f, v)
	}
	return s.client.Do(ctx, cmd.Build()).Error()
}

func (s *ValkeyStore) HashGetAll(ctx context.Context, key string) (map[string]string, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build())
	m, err := resp.AsStrMap()
	if err != nil {
		return nil, false, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	return m, true, nil
}

func (s *ValkeyStore) HashDelete(ctx context.Context, key, field string) error {
	return s.client.Do(ctx, s.client.B().Hdel().Key(key).Field(field).Build()).Error()
}

func (s *ValkeyStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return s.client.Do(ctx, s.client.B().Rpush().Key(key).Element(values...).Build()).Error()
}

func (s *ValkeyStore) LPop(ctx context.Context, key string) (string, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Lpop().Key(key).Build())
	v, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lpop %s: %w", key, err)
	}
	return v, true, nil
}

func (s *ValkeyStore) BLPop(ctx context.Context, keys []string, timeout time.Duration) (string, string, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Blpop().Key(keys...).Timeout(timeout.Seconds()).Build())
	arr, err := resp.ToArray()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("blpop %v: %w", keys, err)
	}
	if len(arr) != 2 {
		return "", "", false, nil
	}
	k, _ := arr[0].ToString()
	v, _ := arr[1].ToString()
	return k, v, true, nil
}

func (s *ValkeyStore) LLen(ctx context.Context, key string) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Llen().Key(key).Build())
	n, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", key, err)
	}
	return n, nil
}

func (s *ValkeyStore) RunScript(ctx context.Context, script Script, keys []string, args []string) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Evalsha().Sha1(s.scriptSHA(ctx, script)).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build())
	arr, err := resp.ToArray()
	if err != nil {
		// NOSCRIPT: server never saw this SHA (e.g. restarted) - load
		// and retry once.
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		resp = s.client.Do(ctx, s.client.B().Eval().Script(script.Source).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build())
		arr, err = resp.ToArray()
		if err != nil {
			return nil, fmt.Errorf("running script %s: %w", script.Name, err)
		}
	}
	out := make([]string, 0, len(arr))
	for _, m := range arr {
		v, _ := m.ToString()
		out = append(out, v)
	}
	return out, nil
}

// scriptSHA loads the script on first use and caches its SHA1 for EVALSHA.
func (s *ValkeyStore) scriptSHA(ctx context.Context, script Script) string {
	if sha, ok := s.sha[script.Name]; ok {
		return sha
	}
	resp := s.client.Do(ctx, s.client.B().ScriptLoad().Script(script.Source).Build())
	sha, err := resp.ToString()
	if err != nil {
		logging.Error("Store", err, "failed to load script %s", script.Name)
		return ""
	}
	s.sha[script.Name] = sha
	return sha
}

func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}

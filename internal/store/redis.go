package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/koltyakov/relink/internal/id"
	"github.com/koltyakov/relink/internal/stats"
)

// redisStore keeps redirects and vanity paths as plain keys and statistics
// as counters plus per-field index sets, so descriptions resolve to SINTER
// over the matching indexes.
type redisStore struct {
	client redis.UniversalClient
}

var _ Store = (*redisStore)(nil)

// All statistics keys share one hash tag so SINTER, MGET, and MULTI work on
// cluster deployments. Redirect and vanity keys stay untagged and spread
// across the cluster.
const statAllKey = "relink:{stat}:all"

func redirectKey(link id.ID) string { return "relink:redirect:" + link.String() }

func vanityKey(path string) string { return "relink:vanity:" + path }

func statisticKey(s stats.Statistic) string {
	// Data goes last: it is the only segment that may contain ":".
	return "relink:{stat}:" + s.Link + ":" + string(s.Type) + ":" + formatBucket(s.Time) + ":" + s.Data
}

func statLinkKey(link string) string { return "relink:{stat}:link:" + link }

func statTypeKey(t stats.Type) string { return "relink:{stat}:type:" + string(t) }

func statDataKey(data string) string { return "relink:{stat}:data:" + data }

func statTimeKey(t stats.Time) string { return "relink:{stat}:time:" + formatBucket(t) }

func formatBucket(t stats.Time) string { return strconv.FormatUint(uint64(t), 10) }

// openRedis connects to the addresses in the "connect" option (comma
// separated) and verifies the connection. The "cluster" option switches to a
// cluster client.
func openRedis(ctx context.Context, options map[string]string) (Store, error) {
	connect := optString(options, "connect", "")
	if connect == "" {
		return nil, errors.New("redis store requires the connect option")
	}
	addrs := strings.Split(connect, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}

	cluster, err := optBool(options, "cluster", false)
	if err != nil {
		return nil, err
	}
	database, err := optInt(options, "database", 0)
	if err != nil {
		return nil, err
	}
	poolSize, err := optInt(options, "pool_size", 8)
	if err != nil {
		return nil, err
	}
	useTLS, err := optBool(options, "tls", false)
	if err != nil {
		return nil, err
	}
	username := optString(options, "username", "")
	password := optString(options, "password", "")

	var tlsConfig *tls.Config
	if useTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var client redis.UniversalClient
	if cluster {
		if database != 0 {
			return nil, errors.New("redis cluster does not support database selection")
		}
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     addrs,
			Username:  username,
			Password:  password,
			PoolSize:  poolSize,
			TLSConfig: tlsConfig,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:      addrs[0],
			Username:  username,
			Password:  password,
			DB:        database,
			PoolSize:  poolSize,
			TLSConfig: tlsConfig,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &redisStore{client: client}, nil
}

func (r *redisStore) GetRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	to, err := r.client.Get(ctx, redirectKey(link)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return to, true, nil
}

func (r *redisStore) SetRedirect(ctx context.Context, link id.ID, to string) (string, bool, error) {
	// SET ... GET returns the previous value; redis.Nil means the set
	// succeeded with nothing to replace.
	old, err := r.client.SetArgs(ctx, redirectKey(link), to, redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return old, true, nil
}

func (r *redisStore) RemoveRedirect(ctx context.Context, link id.ID) (string, bool, error) {
	old, err := r.client.GetDel(ctx, redirectKey(link)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return old, true, nil
}

func (r *redisStore) GetVanity(ctx context.Context, path string) (id.ID, bool, error) {
	raw, err := r.client.Get(ctx, vanityKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, err
	}
	return parseStoredID(raw)
}

func (r *redisStore) SetVanity(ctx context.Context, path string, link id.ID) (id.ID, bool, error) {
	raw, err := r.client.SetArgs(ctx, vanityKey(path), link.String(), redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, err
	}
	return parseStoredID(raw)
}

func (r *redisStore) RemoveVanity(ctx context.Context, path string) (id.ID, bool, error) {
	raw, err := r.client.GetDel(ctx, vanityKey(path)).Result()
	if errors.Is(err, redis.Nil) {
		return id.ID{}, false, nil
	}
	if err != nil {
		return id.ID{}, false, err
	}
	return parseStoredID(raw)
}

func parseStoredID(raw string) (id.ID, bool, error) {
	link, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, false, fmt.Errorf("stored vanity target %q: %w", raw, err)
	}
	return link, true, nil
}

func (r *redisStore) IncrementStatistic(ctx context.Context, s stats.Statistic) error {
	member, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, statisticKey(s))
		pipe.SAdd(ctx, statAllKey, string(member))
		pipe.SAdd(ctx, statLinkKey(s.Link), string(member))
		pipe.SAdd(ctx, statTypeKey(s.Type), string(member))
		pipe.SAdd(ctx, statDataKey(s.Data), string(member))
		pipe.SAdd(ctx, statTimeKey(s.Time), string(member))
		return nil
	})
	return err
}

func (r *redisStore) GetStatistic(ctx context.Context, s stats.Statistic) (stats.Value, bool, error) {
	raw, err := r.client.Get(ctx, statisticKey(s)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored statistic value %q: %w", raw, err)
	}
	return stats.Value(value), true, nil
}

func (r *redisStore) QueryStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	matched, err := r.describedStatistics(ctx, d)
	if err != nil || len(matched) == 0 {
		return nil, err
	}
	values, err := r.statisticValues(ctx, matched)
	if err != nil {
		return nil, err
	}
	sortStatisticValues(values)
	return values, nil
}

func (r *redisStore) RemoveStatistics(ctx context.Context, d stats.Description) ([]StatisticValue, error) {
	matched, err := r.describedStatistics(ctx, d)
	if err != nil || len(matched) == 0 {
		return nil, err
	}
	removed, err := r.statisticValues(ctx, matched)
	if err != nil {
		return nil, err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range matched {
			member, err := json.Marshal(s)
			if err != nil {
				return err
			}
			pipe.Del(ctx, statisticKey(s))
			pipe.SRem(ctx, statAllKey, string(member))
			pipe.SRem(ctx, statLinkKey(s.Link), string(member))
			pipe.SRem(ctx, statTypeKey(s.Type), string(member))
			pipe.SRem(ctx, statDataKey(s.Data), string(member))
			pipe.SRem(ctx, statTimeKey(s.Time), string(member))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStatisticValues(removed)
	return removed, nil
}

// describedStatistics resolves a description to the statistics it matches
// using the index sets. No specified fields means everything.
func (r *redisStore) describedStatistics(ctx context.Context, d stats.Description) ([]stats.Statistic, error) {
	var keys []string
	if d.Link != nil {
		keys = append(keys, statLinkKey(*d.Link))
	}
	if d.Type != nil {
		keys = append(keys, statTypeKey(*d.Type))
	}
	if d.Data != nil {
		keys = append(keys, statDataKey(*d.Data))
	}
	if d.Time != nil {
		keys = append(keys, statTimeKey(*d.Time))
	}

	var members []string
	var err error
	switch len(keys) {
	case 0:
		members, err = r.client.SMembers(ctx, statAllKey).Result()
	case 1:
		members, err = r.client.SMembers(ctx, keys[0]).Result()
	default:
		members, err = r.client.SInter(ctx, keys...).Result()
	}
	if err != nil {
		return nil, err
	}

	matched := make([]stats.Statistic, 0, len(members))
	for _, m := range members {
		var s stats.Statistic
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			return nil, fmt.Errorf("statistics index member %q: %w", m, err)
		}
		matched = append(matched, s)
	}
	return matched, nil
}

// statisticValues fetches counters for the given statistics, skipping any
// whose counter no longer exists.
func (r *redisStore) statisticValues(ctx context.Context, matched []stats.Statistic) ([]StatisticValue, error) {
	keys := make([]string, len(matched))
	for i, s := range matched {
		keys[i] = statisticKey(s)
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	values := make([]StatisticValue, 0, len(matched))
	for i, v := range raw {
		text, ok := v.(string)
		if !ok {
			continue
		}
		value, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("stored statistic value %q: %w", text, err)
		}
		values = append(values, StatisticValue{Statistic: matched[i], Value: stats.Value(value)})
	}
	return values, nil
}

func (r *redisStore) Backend() string { return "redis" }

func (r *redisStore) Close() error { return r.client.Close() }

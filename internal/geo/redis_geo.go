package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/apperrors"
	"github.com/example/ride-hailing/internal/models"
)

// RedisIndex implements Index using Redis GEO commands.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, loc models.DriverLocation) error {
	if loc.At.IsZero() {
		loc.At = time.Now()
	}
	pipe := r.client.TxPipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Loc.Lon, Latitude: loc.Loc.Lat, Name: loc.DriverID})
	pipe.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{"updated": loc.At.UTC().Format(time.RFC3339)})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Transport("redis geoadd", err)
	}
	return nil
}

func (r *RedisIndex) Position(ctx context.Context, driverID string) (models.Coord, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.Coord{}, false, apperrors.Transport("redis geopos", err)
	}
	if len(res) == 0 || res[0] == nil {
		return models.Coord{}, false, nil
	}
	return models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}, true, nil
}

func (r *RedisIndex) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisIndex) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }

package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pollroom/api.pollroom.dev/configure"
)

var Ctx = context.Background()

var Client *redis.Client

func init() {
	options, err := redis.ParseURL(configure.Config.GetString("redis_uri"))
	if err != nil {
		panic(err)
	}

	Client = redis.NewClient(options)
}

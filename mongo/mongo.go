package mongo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pollroom/api.pollroom.dev/configure"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	log "github.com/sirupsen/logrus"
)

var Database *mongo.Database
var Ctx = context.TODO()

var ErrNoDocuments = mongo.ErrNoDocuments

var ready int32

// Ready reports whether the last background ping reached the server. Request
// surfaces short-circuit to a "Database unavailable" response while false.
func Ready() bool {
	return atomic.LoadInt32(&ready) == 1
}

func init() {
	clientOptions := options.Client().ApplyURI(configure.Config.GetString("mongo_uri"))
	client, err := mongo.Connect(Ctx, clientOptions)
	if err != nil {
		panic(err)
	}

	err = client.Ping(Ctx, nil)
	if err != nil {
		panic(err)
	}
	atomic.StoreInt32(&ready, 1)

	Database = client.Database(configure.Config.GetString("mongo_db"))

	_, err = Database.Collection("sessions").Indexes().CreateMany(Ctx, []mongo.IndexModel{
		{Keys: bson.M{"session_id": 1}, Options: options.Index().SetUnique(true)},
		{Keys: bson.M{"role": 1}},
	})
	if err != nil {
		log.Errorf("mongodb, err=%v", err)
	}

	_, err = Database.Collection("polls").Indexes().CreateMany(Ctx, []mongo.IndexModel{
		{Keys: bson.M{"status": 1}},
		{Keys: bson.M{"created_at": -1}},
	})
	if err != nil {
		log.Errorf("mongodb, err=%v", err)
	}

	// The compound unique index is the vote dedup mechanism. Do not replace
	// with a read-check-write, that reintroduces the race it closes.
	_, err = Database.Collection("votes").Indexes().CreateMany(Ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "poll_id", Value: 1}, {Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		log.Errorf("mongodb, err=%v", err)
	}

	go monitor(client)
}

func monitor(client *mongo.Client) {
	for {
		time.Sleep(5 * time.Second)
		ctx, cancel := context.WithTimeout(Ctx, 3*time.Second)
		err := client.Ping(ctx, nil)
		cancel()
		if err != nil {
			if atomic.SwapInt32(&ready, 0) == 1 {
				log.Warnf("mongodb unreachable, err=%v", err)
			}
			continue
		}
		if atomic.SwapInt32(&ready, 1) == 0 {
			log.Info("mongodb connection recovered")
		}
	}
}

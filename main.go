package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/pollroom/api.pollroom.dev/broadcast"
	"github.com/pollroom/api.pollroom.dev/chat"
	"github.com/pollroom/api.pollroom.dev/configure"
	"github.com/pollroom/api.pollroom.dev/mongo"
	"github.com/pollroom/api.pollroom.dev/poll"
	"github.com/pollroom/api.pollroom.dev/redis"
	"github.com/pollroom/api.pollroom.dev/server"
	"github.com/pollroom/api.pollroom.dev/session"
	"github.com/pollroom/api.pollroom.dev/timer"
	"github.com/pollroom/api.pollroom.dev/vote"
)

func main() {
	log.Infoln("Application Starting...")

	configCode := configure.Config.GetInt("exit_code")
	if configCode > 125 || configCode < 0 {
		log.Warnf("Invalid exit code specified in config (%v), using 0 as new exit code.", configCode)
		configCode = 0
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	store := mongo.NewStore()
	hub := broadcast.NewHub(redis.Client)

	registry := session.NewRegistry(store, session.Options{
		TeacherGraceSeconds:     configure.Config.GetInt("teacher_grace_seconds"),
		TeacherIdleMinutes:      configure.Config.GetInt("teacher_idle_minutes"),
		ParticipantGraceSeconds: configure.Config.GetInt("participant_grace_seconds"),
		TeacherPassword:         configure.Config.GetString("teacher_password"),
	})
	polls := poll.NewManager(store, poll.Options{
		MinDurationSeconds: configure.Config.GetInt("poll_min_duration"),
		MaxDurationSeconds: configure.Config.GetInt("poll_max_duration"),
	})
	coordinator := timer.New(polls, hub, timer.Options{})
	ledger := vote.NewLedger(store, registry, polls, coordinator, nil)
	chatService := chat.NewService(chat.NewRedisStore(redis.Client), registry, configure.Config.GetInt("chat_history_size"), nil)

	s := server.NewServer(&server.Deps{
		Registry: registry,
		Polls:    polls,
		Votes:    ledger,
		Chat:     chatService,
		Hub:      hub,
		Timer:    coordinator,
		Ready:    mongo.Ready,
	})

	// Resume a countdown whose expiry survived a restart.
	if err := coordinator.RestoreFromStore(); err != nil {
		log.Warnf("timer restore skipped, err=%v", err)
	}

	go func() {
		sig := <-c
		log.Infof("sig=%v, gracefully shutting down...", sig)
		start := time.Now().UnixNano()

		wg := sync.WaitGroup{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			if err := s.Shutdown(); err != nil {
				log.Errorf("server, shutdown=%v", err)
			}
		}()

		wg.Wait()

		log.Infof("Shutdown took, %.2fms", float64(time.Now().UnixNano()-start)/10e5)
		os.Exit(configCode)
	}()

	log.Infoln("Application Started.")

	select {}
}

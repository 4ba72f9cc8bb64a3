package server

import (
	"net"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pollroom/api.pollroom.dev/broadcast"
	"github.com/pollroom/api.pollroom.dev/chat"
	"github.com/pollroom/api.pollroom.dev/configure"
	"github.com/pollroom/api.pollroom.dev/poll"
	"github.com/pollroom/api.pollroom.dev/server/socket"
	"github.com/pollroom/api.pollroom.dev/session"
	"github.com/pollroom/api.pollroom.dev/timer"
	"github.com/pollroom/api.pollroom.dev/utils"
	"github.com/pollroom/api.pollroom.dev/vote"

	log "github.com/sirupsen/logrus"
)

type Server struct {
	app *fiber.App
	ln  net.Listener
}

// Deps carries the coordination services into the transport layer.
type Deps struct {
	Registry *session.Registry
	Polls    *poll.Manager
	Votes    *vote.Ledger
	Chat     *chat.Service
	Hub      *broadcast.Hub
	Timer    *timer.Coordinator
	Ready    func() bool
}

type customLogger struct{}

func (*customLogger) Write(data []byte) (n int, err error) {
	log.Debugln(utils.B2S(data))
	return len(data), nil
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}

func NewServer(deps *Deps) *Server {
	ln, err := net.Listen(configure.Config.GetString("listener_network"), configure.Config.GetString("listener_address"))
	checkErr(err)

	server := &Server{
		ln: ln,
		app: fiber.New(fiber.Config{
			ErrorHandler: errorHandler,
		}),
	}

	server.app.Use(recover.New())
	server.app.Use(cors.New())
	server.app.Use(logger.New(logger.Config{
		Output: &customLogger{},
	}))

	server.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(&fiber.Map{"ok": true})
	})

	api := server.app.Group("/api", unavailableGuard(deps.Ready))
	api.Get("/polls/active", deps.activePollState)
	api.Get("/polls/history", deps.pollHistory)

	socket.Mount(server.app, &socket.Handler{
		Registry:  deps.Registry,
		Polls:     deps.Polls,
		Votes:     deps.Votes,
		Chat:      deps.Chat,
		Hub:       deps.Hub,
		Timer:     deps.Timer,
		Ready:     deps.Ready,
		State:     deps.StateForSession,
		Heartbeat: time.Duration(configure.Config.GetInt("heartbeat_seconds")) * time.Second,
	})

	server.app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(&fiber.Map{
			"status":  404,
			"message": "We don't know what you're looking for.",
		})
	})

	go func() {
		err = server.app.Listener(server.ln)
		if err != nil {
			log.Errorf("failed to start http server, err=%v", err)
		}
	}()

	return server
}

// unavailableGuard fails fast with a 503 while the store is unreachable
// instead of letting handlers attempt partial writes.
func unavailableGuard(ready func() bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !ready() {
			return c.Status(503).JSON(&fiber.Map{
				"message": "Service unavailable. Retrying database connection.",
			})
		}
		return c.Next()
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	log.Errorf("internal err=%v", spew.Sdump(err))

	return c.SendStatus(500)
}

func (s *Server) Shutdown() error {
	return s.ln.Close()
}

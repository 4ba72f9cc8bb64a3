package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pollroom/api.pollroom.dev/configure"
	"github.com/pollroom/api.pollroom.dev/poll"
	"github.com/pollroom/api.pollroom.dev/timeutil"
)

// StateForSession assembles the snapshot a client renders from: the active
// poll, its remaining seconds and whether this participant already voted.
func (d *Deps) StateForSession(sessionID string) (*poll.State, error) {
	s, err := d.Registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil || s.Kicked {
		return &poll.State{Kicked: true}, nil
	}

	active, err := d.Polls.GetActive()
	if err != nil {
		return nil, err
	}
	if active == nil {
		return &poll.State{}, nil
	}

	v, err := d.Votes.Find(active.ID, sessionID)
	if err != nil {
		return nil, err
	}
	state := &poll.State{
		Poll:             active,
		RemainingSeconds: timeutil.RemainingSeconds(active.ExpiresAt, time.Now()),
		HasVoted:         v != nil,
	}
	if v != nil {
		state.VotedOptionID = v.OptionID.Hex()
	}
	return state, nil
}

func (d *Deps) activePollState(c *fiber.Ctx) error {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = c.Get("X-Session-Id")
	}
	state, err := d.StateForSession(sessionID)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (d *Deps) pollHistory(c *fiber.Ctx) error {
	items, err := d.Polls.History(configure.Config.GetInt("history_limit"))
	if err != nil {
		return err
	}
	return c.JSON(&fiber.Map{"items": items})
}

package mongo

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrDuplicateVote reports a unique-index violation on (poll_id, session_id).
var ErrDuplicateVote = errors.New("duplicate vote")

// Store exposes the document operations the coordination services run on.
// Services depend on narrow interfaces satisfied by this type, tests swap in
// fakes.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (Store) UpsertSession(sessionID, name, role string) (*Session, error) {
	now := time.Now()
	online := true
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	result := Database.Collection("sessions").FindOneAndUpdate(Ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{
			"name":      name,
			"role":      role,
			"online":    online,
			"last_seen": now,
		}},
		opts,
	)
	if err := result.Err(); err != nil {
		return nil, err
	}
	s := &Session{}
	if err := result.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (Store) FindSession(sessionID string) (*Session, error) {
	result := Database.Collection("sessions").FindOne(Ctx, bson.M{"session_id": sessionID})
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	s := &Session{}
	if err := result.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

// FindTeacher returns the most recently seen non-kicked teacher record, or nil.
// Grace and idle decisions belong to the registry, not the query.
func (Store) FindTeacher() (*Session, error) {
	opts := options.FindOne().SetSort(bson.M{"last_seen": -1})
	result := Database.Collection("sessions").FindOne(Ctx, bson.M{
		"role":   RoleTeacher,
		"kicked": bson.M{"$ne": true},
	}, opts)
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	s := &Session{}
	if err := result.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (Store) SetSessionKicked(sessionID string, kicked bool) (*Session, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := Database.Collection("sessions").FindOneAndUpdate(Ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"kicked": kicked}},
		opts,
	)
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	s := &Session{}
	if err := result.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (Store) SetSessionOnline(sessionID string, online bool) (*Session, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := Database.Collection("sessions").FindOneAndUpdate(Ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"online": online, "last_seen": time.Now()}},
		opts,
	)
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	s := &Session{}
	if err := result.Decode(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListActiveSessions returns non-kicked participants that are either marked
// online or were seen after cutoff. Records missing either field count as
// active.
func (Store) ListActiveSessions(cutoff time.Time) ([]Session, error) {
	cursor, err := Database.Collection("sessions").Find(Ctx, bson.M{
		"kicked": bson.M{"$ne": true},
		"$or": bson.A{
			bson.M{"online": true},
			bson.M{"online": bson.M{"$exists": false}},
			bson.M{"last_seen": bson.M{"$gte": cutoff}},
			bson.M{"last_seen": bson.M{"$exists": false}},
		},
	})
	if err != nil {
		return nil, err
	}
	var sessions []Session
	if err := cursor.All(Ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (Store) InsertPoll(p *Poll) (*Poll, error) {
	res, err := Database.Collection("polls").InsertOne(Ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = res.InsertedID.(primitive.ObjectID)
	return p, nil
}

func (Store) FindActivePoll() (*Poll, error) {
	result := Database.Collection("polls").FindOne(Ctx, bson.M{"status": PollStatusActive})
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	p := &Poll{}
	if err := result.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (Store) FindPollByID(id primitive.ObjectID) (*Poll, error) {
	result := Database.Collection("polls").FindOne(Ctx, bson.M{"_id": id})
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	p := &Poll{}
	if err := result.Decode(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CompletePoll flips an active poll to completed with a single conditional
// write. The second return reports whether this call made the transition; a
// poll already completed is returned as-is with false.
func (s Store) CompletePoll(id primitive.ObjectID, at time.Time) (*Poll, bool, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	result := Database.Collection("polls").FindOneAndUpdate(Ctx,
		bson.M{"_id": id, "status": PollStatusActive},
		bson.M{"$set": bson.M{"status": PollStatusCompleted, "completed_at": at}},
		opts,
	)
	err := result.Err()
	if err == nil {
		p := &Poll{}
		if err := result.Decode(p); err != nil {
			return nil, false, err
		}
		return p, true, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, false, err
	}
	p, err := s.FindPollByID(id)
	if err != nil {
		return nil, false, err
	}
	return p, false, nil
}

func (Store) PollHistory(limit int64) ([]Poll, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit)
	cursor, err := Database.Collection("polls").Find(Ctx, bson.M{"status": PollStatusCompleted}, opts)
	if err != nil {
		return nil, err
	}
	var polls []Poll
	if err := cursor.All(Ctx, &polls); err != nil {
		return nil, err
	}
	return polls, nil
}

func (Store) InsertVote(v *Vote) error {
	_, err := Database.Collection("votes").InsertOne(Ctx, v)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateVote
		}
		return err
	}
	return nil
}

// IncrementOptionVotes bumps the matching option counter with a positional
// $inc, not a read-modify-write.
func (Store) IncrementOptionVotes(pollID, optionID primitive.ObjectID) error {
	_, err := Database.Collection("polls").UpdateOne(Ctx,
		bson.M{"_id": pollID, "options._id": optionID},
		bson.M{"$inc": bson.M{"options.$.votes": 1}},
	)
	return err
}

func (Store) CountVotes(pollID primitive.ObjectID) (int64, error) {
	return Database.Collection("votes").CountDocuments(Ctx, bson.M{"poll_id": pollID})
}

func (Store) FindVote(pollID primitive.ObjectID, sessionID string) (*Vote, error) {
	result := Database.Collection("votes").FindOne(Ctx, bson.M{"poll_id": pollID, "session_id": sessionID})
	if err := result.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	v := &Vote{}
	if err := result.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

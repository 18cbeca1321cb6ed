package command

import (
	"strconv"

	"keyz/internal/store"
)

// Replies holds the canned reply strings sourced from configuration.
// Handlers never invent their own text; every reply they produce is
// one of these, the stored plaintext, the key name, or a decimal count.
type Replies struct {
	OK      string
	Null    string
	Invalid string
}

// Execute runs cmd against s and returns the reply bytes to write
// back to the client. It never panics on a malformed command — by
// the time a Command reaches here it has already parsed successfully;
// parse failures are handled one layer up, in the connection loop.
func Execute(cmd Command, s *store.Store, replies Replies) ([]byte, error) {
	switch cmd.Verb {
	case VerbSet:
		return handleSet(cmd, s, replies)
	case VerbGet:
		return handleGet(cmd, s, replies)
	case VerbDel:
		return handleDel(cmd, s, replies)
	case VerbExin:
		return handleExin(cmd, s, replies)
	default:
		return []byte(replies.Invalid), nil
	}
}

func handleSet(cmd Command, s *store.Store, replies Replies) ([]byte, error) {
	if err := s.Insert(cmd.Key, cmd.Value, cmd.TTL); err != nil {
		return nil, err
	}
	return []byte(replies.OK), nil
}

func handleGet(cmd Command, s *store.Store, replies Replies) ([]byte, error) {
	value, ok, err := s.Get(cmd.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []byte(replies.Null), nil
	}
	return value, nil
}

func handleDel(cmd Command, s *store.Store, replies Replies) ([]byte, error) {
	if s.Delete(cmd.Key) {
		return []byte(cmd.Key), nil
	}
	return []byte(replies.Null), nil
}

func handleExin(cmd Command, s *store.Store, replies Replies) ([]byte, error) {
	seconds, ok := s.ExpiresIn(cmd.Key)
	if !ok {
		return []byte(replies.Null), nil
	}
	return []byte(strconv.FormatInt(seconds, 10)), nil
}

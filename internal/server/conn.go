package server

import (
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"keyz/internal/command"
	"keyz/internal/protocol"
)

// connState tracks whether a connection is still reading frames or
// has reached a terminal close.
type connState int

const (
	stateReading connState = iota
	stateClosed
)

// handleConnection runs the read-frame -> dispatch -> write-reply loop
// for one accepted connection until it reaches stateClosed, then
// closes the socket. It never touches any other connection's state;
// the only thing it shares with the rest of the server is s.store.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	log := s.log.With().Str("remote", addr).Logger()
	log.Debug().Msg("connection accepted")

	state := stateReading
	for state == stateReading {
		state = s.readDispatchWrite(conn, log)
	}
	log.Debug().Msg("connection closed")
}

func (s *Server) readDispatchWrite(conn net.Conn, log zerolog.Logger) connState {
	if err := conn.SetReadDeadline(time.Now().Add(s.config().Protocol.IdleTimeout)); err != nil {
		log.Warn().Err(err).Msg("failed to set read deadline")
		return stateClosed
	}

	payload, err := protocol.ReadFrame(conn, s.config().Protocol.MaxMessageBytes)
	if err != nil {
		return s.handleReadError(conn, err, log)
	}
	if err := protocol.ValidateUTF8(payload); err != nil {
		return s.handleReadError(conn, err, log)
	}

	if string(payload) == s.config().Protocol.CloseCommand {
		s.writeReply(conn, []byte(s.config().Protocol.ClosingResponse), log)
		return stateClosed
	}

	reply := s.dispatch(payload, log)
	if !s.writeReply(conn, reply, log) {
		return stateClosed
	}
	return stateReading
}

func (s *Server) handleReadError(conn net.Conn, err error, log zerolog.Logger) connState {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		log.Warn().Err(err).Msg("unclassified read error")
		return stateClosed
	}

	switch perr.Kind {
	case protocol.KindTimeout:
		s.stats.timeouts.Add(1)
		log.Debug().Msg("idle timeout, sending courtesy reply")
		s.writeReply(conn, []byte(s.config().Protocol.TimeoutResponse), log)
		return stateClosed
	case protocol.KindDisconnected:
		s.stats.disconnects.Add(1)
		return stateClosed
	case protocol.KindUnexpectedEOF:
		log.Debug().Msg("unexpected eof mid-frame")
		return stateClosed
	case protocol.KindFrameTooLarge:
		log.Warn().Msg("frame exceeded max_message_bytes, closing")
		return stateClosed
	case protocol.KindInvalidUTF8:
		log.Warn().Msg("invalid utf-8 payload, closing")
		return stateClosed
	default:
		log.Warn().Err(err).Msg("io error reading frame")
		return stateClosed
	}
}

// dispatch parses payload and executes it against the store, catching
// parse failures and converting them into the invalid-command reply
// exactly once, one layer above the handlers themselves. The caller
// has already validated payload as UTF-8 on the read path; a
// non-UTF-8 frame terminates the connection before reaching dispatch.
func (s *Server) dispatch(payload []byte, log zerolog.Logger) []byte {
	cmd, err := command.Parse(string(payload))
	if err != nil {
		return []byte(s.config().Protocol.InvalidCommandResponse)
	}

	s.countOp(cmd.Verb)

	reply, err := command.Execute(cmd, s.store, s.replies())
	if err != nil {
		log.Error().Err(err).Msg("command execution failed")
		return []byte(s.config().Protocol.InvalidCommandResponse)
	}
	return reply
}

func (s *Server) countOp(verb command.Verb) {
	switch verb {
	case command.VerbSet:
		s.stats.setOps.Add(1)
	case command.VerbGet:
		s.stats.getOps.Add(1)
	case command.VerbDel:
		s.stats.delOps.Add(1)
	case command.VerbExin:
		s.stats.exinOps.Add(1)
	}
}

// writeReply writes reply back to conn. Writes are not subject to the
// idle timeout: a slow client only ever hurts itself.
func (s *Server) writeReply(conn net.Conn, reply []byte, log zerolog.Logger) bool {
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn().Err(err).Msg("failed to clear write deadline")
	}
	if err := protocol.WriteFrame(conn, reply, s.config().Protocol.MaxMessageBytes); err != nil {
		log.Warn().Err(err).Msg("write error")
		return false
	}
	return true
}

func (s *Server) replies() command.Replies {
	return command.Replies{
		OK:      s.config().Protocol.OKResponse,
		Null:    s.config().Protocol.NullResponse,
		Invalid: s.config().Protocol.InvalidCommandResponse,
	}
}

package client

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dahch/task-board-sync/protocol"
)

var sessionSeq atomic.Uint64

// session is one live connection to the relay. out is closed by the event
// loop only.
type session struct {
	id   uint64
	conn Conn
	out  chan []byte
	done chan struct{}
	err  error // set by the reader before done is closed

	// flushed is closed when the writer has stopped.
	flushed chan struct{}
}

// connect dials the relay and keeps reconnecting after drops. Each outage
// gets ReconnectAttempts dials spaced by the fixed delay; once they are used
// up the client stays Disconnected.
func (c *Client) connect(ctx context.Context) {
	defer c.wg.Done()
	attempt := 0
	first := true
	for {
		if !first {
			if !sleep(ctx, c.delay) {
				return
			}
		}
		first = false
		attempt++
		if !c.send(stateMsg{state: Connecting, attempt: attempt}) {
			return
		}
		conn, err := c.dialer.Dial(ctx, c.target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).WithFields(log.Fields{"attempt": attempt, "url": c.target}).Warn("relay dial failed")
			if attempt >= ReconnectAttempts {
				c.logger.WithField("attempts", attempt).Error("giving up on relay connection")
				c.send(stateMsg{state: Disconnected})
				return
			}
			continue
		}
		attempt = 0

		sess := &session{
			id:      sessionSeq.Add(1),
			conn:    conn,
			out:     make(chan []byte, outboundBuffer),
			done:    make(chan struct{}),
			flushed: make(chan struct{}),
		}
		if !c.send(sessionUpMsg{sess: sess}) {
			_ = conn.Close()
			return
		}
		c.wg.Add(2)
		go c.writeLoop(sess)
		go c.readLoop(sess)

		select {
		case <-sess.done:
		case <-ctx.Done():
			// Give queued frames a chance to go out before hanging up.
			select {
			case <-sess.flushed:
			case <-sess.done:
			case <-time.After(flushTimeout):
			}
			_ = conn.Close()
			<-sess.done
			return
		}
		if !c.send(sessionDownMsg{sess: sess, err: sess.err}) {
			return
		}
	}
}

func (c *Client) readLoop(sess *session) {
	defer c.wg.Done()
	defer close(sess.done)
	for {
		frame, err := sess.conn.Read()
		if err != nil {
			sess.err = err
			_ = sess.conn.Close()
			return
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		if !c.send(inboundMsg{sess: sess, env: env}) {
			_ = sess.conn.Close()
			return
		}
	}
}

func (c *Client) writeLoop(sess *session) {
	defer c.wg.Done()
	defer close(sess.flushed)
	for frame := range sess.out {
		if err := sess.conn.Write(frame); err != nil {
			c.logger.WithError(err).Debug("write to relay failed")
			_ = sess.conn.Close()
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/transport"
)

// Serve reads requests from t until it closes or ctx ends. Transports that
// allow it are served concurrently; the rest one request at a time. Serve
// returns after every started request has been answered.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the transport unblocks most reads. Reads that ignore Close,
	// like a terminal stdin, are left to the receive goroutine.
	stopClose := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stopClose()

	concurrent := transport.AllowsConcurrentRequests(t)
	s.logger.Infof("Serving on %s transport (concurrent=%v)", t.Kind(), concurrent)

	incoming := make(chan received)
	next := make(chan struct{}, 1)
	go s.receive(ctx, t, incoming, next)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var r received
		select {
		case <-ctx.Done():
			return nil
		case r = <-incoming:
		}

		if r.err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive request: %w", r.err)
		}
		if r.msg == nil {
			s.logger.Infof("%s transport closed", t.Kind())
			return nil
		}

		if concurrent {
			wg.Add(1)
			go func(msg *mcp.RequestMessage) {
				defer wg.Done()
				s.serveOne(ctx, t, msg)
			}(r.msg)
		} else {
			s.serveOne(ctx, t, r.msg)
		}
		next <- struct{}{}
	}
}

type received struct {
	msg *mcp.RequestMessage
	err error
}

// receive feeds Serve one message at a time. It reads the next message only
// after Serve has taken up the previous one, so a serialized transport never
// reads ahead of the request being answered.
func (s *Server) receive(ctx context.Context, t transport.Transport, out chan<- received, next <-chan struct{}) {
	for {
		msg, err := t.ReceiveRequest(ctx)
		select {
		case out <- received{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if msg == nil || err != nil {
			return
		}
		select {
		case <-next:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) serveOne(ctx context.Context, t transport.Transport, msg *mcp.RequestMessage) {
	resp := s.HandleRequest(ctx, msg.Request)
	if msg.IsNotification() {
		return
	}

	err := t.SendResponse(ctx, &mcp.ResponseMessage{ID: msg.ID, Response: resp})
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrClosed):
		s.logger.Debugf("Dropping response for %s: transport closed", msg.Request.Method())
	default:
		s.logger.Errorf("Failed to send response for %s: %v", msg.Request.Method(), err)
	}
}

// Run starts the server, serves t until it closes or ctx ends, then stops
// the server and closes t.
func (s *Server) Run(ctx context.Context, t transport.Transport) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	serveErr := s.Serve(ctx, t)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	stopErr := s.Stop(stopCtx)
	if errors.Is(stopErr, ErrNotRunning) {
		stopErr = nil
	}

	return errors.Join(serveErr, stopErr, t.Close())
}

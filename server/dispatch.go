package server

import (
	"context"

	"github.com/davecgh/go-spew/spew"

	"tiny-rpc/message"
)

var dumper = spew.ConfigState{Indent: "  ", MaxDepth: 4, DisablePointerAddresses: true, SortKeys: true}

// dispatch is the innermost handler: method lookup, then argument binding and invocation.
// It never fails; every outcome is an envelope.
func (s *Server) dispatch(ctx context.Context, req *message.Request) *message.Envelope {
	m, ok := s.methods.Lookup(req.Method)
	if !ok {
		log.Infof("[%s] unknown method %q", SessionID(ctx), req.Method)
		return message.EnvelopeFromError(&message.UnknownMethodError{Method: req.Method})
	}

	result, err := m.Call(ctx, req.Args, req.Kwargs)
	if err != nil {
		log.Errorf("[%s] method %s failed: %v\nargs: %skwargs: %s",
			SessionID(ctx), req.Method, err, dumper.Sdump(req.Args), dumper.Sdump(req.Kwargs))
		return message.EnvelopeFromError(err)
	}
	return message.NewResult(result)
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/trace"

	"github.com/brevity-dns/resolvd"
	"github.com/brevity-dns/resolvd/internal/model"
)

// genID produces a short per-request correlation id for logging and
// tracing, the same role the teacher's server.go genID played.
func genID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", binary.BigEndian.Uint32(b[:]))
}

type resolverServer struct {
	engine *resolvd.Engine
	log    *logrus.Logger
}

func (s *resolverServer) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.RecursionAvailable = true

	if len(r.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		w.WriteMsg(m)
		return
	}

	reqID := genID()
	q := r.Question[0]
	tr := trace.New("resolvd.query", q.Name)
	defer tr.Finish()
	ctx := context.WithValue(context.Background(), requestIDKey{}, reqID)

	question := model.Question{Name: q.Name, Type: q.Qtype, Class: q.Qclass}
	ecs := clientSubnetFromRequest(r)

	var ans model.Answer
	var err error
	if ecs != nil {
		ans, err = s.engine.ResolveECS(ctx, question, r.CheckingDisabled, ecs)
	} else {
		ans, err = s.engine.Resolve(ctx, question, r.CheckingDisabled)
	}
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": reqID,
			"qname":      q.Name,
			"qtype":      dns.TypeToString[q.Qtype],
		}).WithError(err).Warn("resolution failed")
		tr.SetError()

		m.Rcode = dns.RcodeServerFailure
		if rerr, ok := err.(*resolvd.ResolutionError); ok {
			m.Rcode = rerr.RCode()
		}
		w.WriteMsg(m)
		return
	}

	m.Rcode = ans.Rcode
	m.AuthenticatedData = ans.Authenticated
	m.Answer = ans.Answer
	m.Ns = ans.Authority
	m.Extra = ans.Additional
	if ecs != nil {
		m.SetEdns0(4096, false)
		opt := m.IsEdns0()
		opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
			Code:          dns.EDNS0SUBNET,
			Family:        ecs.Family,
			SourceNetmask: uint8(ecs.SourceMask),
			SourceScope:   uint8(ecs.SourceMask),
			Address:       ecs.Addr,
		})
	}
	w.WriteMsg(m)
}

// clientSubnetFromRequest extracts an inbound EDNS Client Subnet option
// (RFC 7871) from r's OPT record, the same option-scan pattern ecsScope
// uses on the outbound side (internal/outbound/mux.go), or nil if the
// client attached none.
func clientSubnetFromRequest(r *dns.Msg) *model.ClientSubnet {
	opt := r.IsEdns0()
	if opt == nil {
		return nil
	}
	for _, o := range opt.Option {
		if sub, ok := o.(*dns.EDNS0_SUBNET); ok {
			return &model.ClientSubnet{
				Addr:       sub.Address,
				SourceMask: int(sub.SourceNetmask),
				Family:     sub.Family,
			}
		}
	}
	return nil
}

type requestIDKey struct{}

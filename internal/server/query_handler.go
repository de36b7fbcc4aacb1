// Package server implements the DNS-facing side of the forwarder: the query
// handler that mediates between client, upstream pool, and supercache, plus
// the UDP and TCP listeners and their runner.
//
// Goroutine Model:
//
// The listeners spawn worker goroutines per socket (UDP) and per connection
// (TCP); each incoming request becomes one Handle call. Handle itself spawns
// exactly one goroutine on the success path: the detached supercache write,
// which must never delay the reply. The listener goroutines stop when the
// shared context is cancelled; a detached write already started is not
// cancelled with it and runs to completion.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miekg/dns"

	"github.com/jroosing/supercachedns/internal/records"
	"github.com/jroosing/supercachedns/internal/resolvers"
)

// CacheStore is the slice of the supercache the handler needs.
type CacheStore interface {
	UpsertRecord(ctx context.Context, name, recordType, contentJSON string, dataReceivedAt, lastQueryAt int64) error
	TouchAndFetch(ctx context.Context, name, recordType string, now int64) (contentJSON string, dataReceivedAt int64, ok bool, err error)
}

// QueryHandler drives one client request from decoded query to reply.
//
// The flow per request:
//
//	dispatch -> upstream lookup -> classify -> reply        (fresh answer)
//	                 |-> authoritative negative -> reply    (no cache touch)
//	                 |-> configuration error -> SERVFAIL    (no cache touch)
//	                 |-> transient failure -> supercache -> reply or SERVFAIL
//
// Every request gets exactly one reply, always carrying the request id. A
// successful upstream answer is additionally written through to the
// supercache on a detached goroutine.
type QueryHandler struct {
	Logger   *slog.Logger
	Resolver resolvers.Resolver
	Store    CacheStore
}

// Handle processes one decoded request and returns the reply to send.
func (h *QueryHandler) Handle(ctx context.Context, req *dns.Msg) *dns.Msg {
	// A response arriving at a server socket means a misrouted or
	// misbehaving client; refuse it rather than resolve it.
	if req.Response {
		h.logDrop(ctx, req, "inbound response refused")
		return errorReply(req, dns.RcodeRefused)
	}

	if len(req.Question) == 0 {
		return errorReply(req, dns.RcodeFormatError)
	}
	q := req.Question[0]

	rrs, err := h.Resolver.Lookup(ctx, q.Name, q.Qtype)
	switch {
	case err == nil:
		receivedAt := time.Now()
		go h.writeThrough(ctx, q, rrs, receivedAt)
		return h.replyFromBatch(req, q, rrs, receivedAt, receivedAt)

	case errors.Is(err, resolvers.ErrNoConnections):
		// Configuration error. The supercache is deliberately not consulted:
		// the operator must see this, not have it masked by stale answers.
		h.logError(ctx, q, "no upstream servers configured", err)
		return errorReply(req, dns.RcodeServerFailure)

	default:
		var negative *resolvers.NoRecordsFoundError
		if errors.As(err, &negative) {
			return h.negativeReply(req, negative)
		}
		h.logError(ctx, q, "upstream lookup failed, trying supercache", err)
		return h.replyFromCache(ctx, req, q)
	}
}

// replyFromBatch builds the reply for a record batch: classify, rewrite
// TTLs, emit the four sections.
func (h *QueryHandler) replyFromBatch(req *dns.Msg, q dns.Question, rrs []dns.RR, receivedAt, now time.Time) *dns.Msg {
	sections := records.Classify(q.Name, rrs, receivedAt, now)

	m := new(dns.Msg)
	m.SetReply(req)
	m.RecursionAvailable = true
	m.Answer = sections.Answers
	m.Ns = append(sections.NameServers, sections.SOA...)
	m.Extra = sections.Additionals
	return m
}

// negativeReply passes an authoritative negative through: upstream response
// code, SOA (when supplied) as the sole authority entry, empty body
// otherwise.
func (h *QueryHandler) negativeReply(req *dns.Msg, neg *resolvers.NoRecordsFoundError) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, neg.Rcode)
	m.RecursionAvailable = true
	if neg.SOA != nil {
		m.Ns = []dns.RR{dns.Copy(neg.SOA)}
	}
	return m
}

// replyFromCache is the supercache fallback: touch-and-fetch the stored
// batch for the question and answer from it with aged TTLs, or SERVFAIL on
// a miss.
func (h *QueryHandler) replyFromCache(ctx context.Context, req *dns.Msg, q dns.Question) *dns.Msg {
	nowUnix := time.Now().Unix()
	content, receivedUnix, ok, err := h.Store.TouchAndFetch(ctx, q.Name, dns.Type(q.Qtype).String(), nowUnix)
	if err != nil {
		h.logError(ctx, q, "supercache read failed", err)
		return errorReply(req, dns.RcodeServerFailure)
	}
	if !ok {
		return errorReply(req, dns.RcodeServerFailure)
	}

	rrs, err := records.DecodeJSON(content)
	if err != nil {
		h.logError(ctx, q, "supercache entry is corrupt", err)
		return errorReply(req, dns.RcodeServerFailure)
	}

	// TTLs are recomputed against the original fetch instant, so records
	// past their lifetime come out with TTL 0 but still answer the question.
	receivedAt := time.Unix(receivedUnix, 0)
	return h.replyFromBatch(req, q, rrs, receivedAt, time.Now())
}

// writeThrough persists a fresh upstream batch to the supercache.
//
// Runs detached from the request so the reply never waits on disk. Failures
// are logged and dropped; the worst outcome is a cache miss on a later
// fallback.
func (h *QueryHandler) writeThrough(ctx context.Context, q dns.Question, rrs []dns.RR, receivedAt time.Time) {
	ctx = context.WithoutCancel(ctx)

	content, err := records.EncodeJSON(rrs)
	if err != nil {
		h.logError(ctx, q, "failed to serialize records for supercache", err)
		return
	}

	now := receivedAt.Unix()
	if err := h.Store.UpsertRecord(ctx, q.Name, dns.Type(q.Qtype).String(), content, now, now); err != nil {
		h.logError(ctx, q, "supercache write failed", err)
	}
}

// errorReply builds an empty reply with the given response code, preserving
// the request id.
func errorReply(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	return m
}

func (h *QueryHandler) logError(ctx context.Context, q dns.Question, msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.WarnContext(ctx, msg,
		"qname", q.Name,
		"qtype", dns.Type(q.Qtype).String(),
		"err", err,
	)
}

func (h *QueryHandler) logDrop(ctx context.Context, req *dns.Msg, msg string) {
	if h.Logger == nil {
		return
	}
	h.Logger.WarnContext(ctx, msg, "id", req.Id)
}

package dnszone

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/afterdarksys/mockfactory/internal/store"
)

// Responder answers standard UDP DNS queries from the record store.
// Lookups are multi-tenant by name: names are not unique across
// environments, so the oldest matching record wins. It is not authoritative
// for zone transfers and does no DNSSEC.
type Responder struct {
	Store  *store.Store
	Logger *slog.Logger

	server *dns.Server
}

// NewResponder builds the responder.
func NewResponder(st *store.Store, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{Store: st, Logger: logger}
}

// ListenAndServe binds the UDP socket and serves until Shutdown.
func (r *Responder) ListenAndServe(addr string) error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", r.handle)
	r.server = &dns.Server{Addr: addr, Net: "udp", Handler: mux}
	r.Logger.Info("dns responder listening", "addr", addr)
	return r.server.ListenAndServe()
}

// Shutdown stops the responder.
func (r *Responder) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.ShutdownContext(ctx)
}

var qtypeNames = map[uint16]string{
	dns.TypeA:     "A",
	dns.TypeAAAA:  "AAAA",
	dns.TypeCNAME: "CNAME",
	dns.TypeMX:    "MX",
	dns.TypeTXT:   "TXT",
	dns.TypeNS:    "NS",
	dns.TypeSRV:   "SRV",
	dns.TypePTR:   "PTR",
}

func (r *Responder) handle(w dns.ResponseWriter, req *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(req)

	if len(req.Question) != 1 {
		m.SetRcode(req, dns.RcodeFormatError)
		_ = w.WriteMsg(m)
		return
	}
	q := req.Question[0]

	// Not authoritative for zone transfers.
	if q.Qtype == dns.TypeAXFR || q.Qtype == dns.TypeIXFR {
		m.SetRcode(req, dns.RcodeNotImplemented)
		_ = w.WriteMsg(m)
		return
	}
	rtype, ok := qtypeNames[q.Qtype]
	if !ok {
		m.SetRcode(req, dns.RcodeNotImplemented)
		_ = w.WriteMsg(m)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	name := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	recs, err := r.Store.LookupDNS(ctx, name, rtype)
	if err != nil {
		r.Logger.Error("dns lookup failed", "name", name, "type", rtype, "error", err)
		m.SetRcode(req, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
		return
	}
	if len(recs) == 0 {
		m.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(m)
		return
	}

	for _, rec := range recs {
		if rr := toRR(q.Name, rec); rr != nil {
			m.Answer = append(m.Answer, rr)
		}
	}
	if len(m.Answer) == 0 {
		m.SetRcode(req, dns.RcodeServerFailure)
	}
	_ = w.WriteMsg(m)
}

func toRR(qname string, rec *store.DNSRecord) dns.RR {
	hdr := dns.RR_Header{
		Name:   qname,
		Class:  dns.ClassINET,
		Ttl:    uint32(rec.TTL),
		Rrtype: dns.StringToType[rec.Type],
	}
	switch rec.Type {
	case "A":
		ip := net.ParseIP(rec.Value)
		if ip == nil {
			return nil
		}
		return &dns.A{Hdr: hdr, A: ip.To4()}
	case "AAAA":
		ip := net.ParseIP(rec.Value)
		if ip == nil {
			return nil
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
	case "CNAME":
		return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(rec.Value)}
	case "NS":
		return &dns.NS{Hdr: hdr, Ns: dns.Fqdn(rec.Value)}
	case "PTR":
		return &dns.PTR{Hdr: hdr, Ptr: dns.Fqdn(rec.Value)}
	case "TXT":
		return &dns.TXT{Hdr: hdr, Txt: []string{rec.Value}}
	case "MX":
		prio := 0
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		return &dns.MX{Hdr: hdr, Preference: uint16(prio), Mx: dns.Fqdn(rec.Value)}
	case "SRV":
		var prio, weight, port int
		if rec.Priority != nil {
			prio = *rec.Priority
		}
		if rec.Weight != nil {
			weight = *rec.Weight
		}
		if rec.Port != nil {
			port = *rec.Port
		}
		return &dns.SRV{Hdr: hdr, Priority: uint16(prio), Weight: uint16(weight),
			Port: uint16(port), Target: dns.Fqdn(rec.Value)}
	default:
		return nil
	}
}

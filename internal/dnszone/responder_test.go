package dnszone

import (
	"context"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/store"
)

// capturingWriter records the reply instead of writing to a socket.
type capturingWriter struct {
	msg *dns.Msg
}

func (c *capturingWriter) LocalAddr() net.Addr       { return &net.UDPAddr{} }
func (c *capturingWriter) RemoteAddr() net.Addr      { return &net.UDPAddr{} }
func (c *capturingWriter) WriteMsg(m *dns.Msg) error { c.msg = m; return nil }
func (c *capturingWriter) Write([]byte) (int, error) { return 0, nil }
func (c *capturingWriter) Close() error              { return nil }
func (c *capturingWriter) TsigStatus() error         { return nil }
func (c *capturingWriter) TsigTimersOnly(bool)       {}
func (c *capturingWriter) Hijack()                   {}

func newTestResponder(t *testing.T) (*Responder, *Records, string) {
	t.Helper()
	recs, envID := newTestRecords(t)
	return NewResponder(recs.Store, nil), recs, envID
}

func query(r *Responder, name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	w := &capturingWriter{}
	r.handle(w, req)
	return w.msg
}

func TestResponderAnswersFromStore(t *testing.T) {
	r, recs, envID := newTestResponder(t)
	ctx := context.Background()

	require.NoError(t, recs.Create(ctx, &store.DNSRecord{
		EnvironmentID: envID, Name: "web.test", Type: "A", Value: "10.0.0.1", TTL: 300,
	}))
	prio := 10
	require.NoError(t, recs.Create(ctx, &store.DNSRecord{
		EnvironmentID: envID, Name: "test", Type: "MX", Value: "mail.test", TTL: 300, Priority: &prio,
	}))

	reply := query(r, "web.test", dns.TypeA)
	require.NotNil(t, reply)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	require.Len(t, reply.Answer, 1)
	a, ok := reply.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", a.A.String())
	assert.Equal(t, uint32(300), a.Hdr.Ttl)

	reply = query(r, "test", dns.TypeMX)
	require.Len(t, reply.Answer, 1)
	mx, ok := reply.Answer[0].(*dns.MX)
	require.True(t, ok)
	assert.Equal(t, uint16(10), mx.Preference)
	assert.Equal(t, "mail.test.", mx.Mx)
}

func TestResponderNXDomain(t *testing.T) {
	r, _, _ := newTestResponder(t)
	reply := query(r, "nobody.test", dns.TypeA)
	require.NotNil(t, reply)
	assert.Equal(t, dns.RcodeNameError, reply.Rcode)
}

func TestResponderRefusesZoneTransfers(t *testing.T) {
	r, _, _ := newTestResponder(t)
	reply := query(r, "test", dns.TypeAXFR)
	require.NotNil(t, reply)
	assert.Equal(t, dns.RcodeNotImplemented, reply.Rcode)
}

func TestResponderNameIsCaseInsensitive(t *testing.T) {
	r, recs, envID := newTestResponder(t)
	require.NoError(t, recs.Create(context.Background(), &store.DNSRecord{
		EnvironmentID: envID, Name: "web.test", Type: "A", Value: "10.0.0.1", TTL: 300,
	}))
	reply := query(r, "WEB.Test", dns.TypeA)
	require.NotNil(t, reply)
	assert.Equal(t, dns.RcodeSuccess, reply.Rcode)
	assert.Len(t, reply.Answer, 1)
}

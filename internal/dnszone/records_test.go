package dnszone

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

func newTestRecords(t *testing.T) (*Records, string) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	u, err := st.CreateUser(context.Background(), "dev@example.com", "", "free")
	require.NoError(t, err)
	env := &store.Environment{
		ID:                store.NewEnvironmentID(),
		UserID:            u.ID,
		Name:              "scratch",
		AutoShutdownAfter: time.Hour,
	}
	require.NoError(t, st.Tx(context.Background(), func(tx *sql.Tx) error {
		return st.CreateEnvironment(context.Background(), tx, env)
	}))
	return NewRecords(st), env.ID
}

func intp(n int) *int { return &n }

func TestValidateShapes(t *testing.T) {
	cases := []struct {
		name string
		rec  store.DNSRecord
		ok   bool
	}{
		{"a record", store.DNSRecord{Name: "web.test", Type: "A", Value: "10.0.0.1"}, true},
		{"a record ipv6 value", store.DNSRecord{Name: "web.test", Type: "A", Value: "::1"}, false},
		{"a record garbage", store.DNSRecord{Name: "web.test", Type: "A", Value: "not-an-ip"}, false},
		{"aaaa record", store.DNSRecord{Name: "web.test", Type: "AAAA", Value: "2001:db8::1"}, true},
		{"aaaa record ipv4 value", store.DNSRecord{Name: "web.test", Type: "AAAA", Value: "10.0.0.1"}, false},
		{"cname", store.DNSRecord{Name: "www.test", Type: "CNAME", Value: "web.test"}, true},
		{"cname bad target", store.DNSRecord{Name: "www.test", Type: "CNAME", Value: "no spaces"}, false},
		{"lowercased type", store.DNSRecord{Name: "web.test", Type: "a", Value: "10.0.0.1"}, true},
		{"mx", store.DNSRecord{Name: "test", Type: "MX", Value: "mail.test", Priority: intp(10)}, true},
		{"mx missing priority", store.DNSRecord{Name: "test", Type: "MX", Value: "mail.test"}, false},
		{"srv", store.DNSRecord{Name: "_sip._tcp.test", Type: "SRV", Value: "sip.test",
			Priority: intp(10), Weight: intp(5), Port: intp(5060)}, true},
		{"srv missing port", store.DNSRecord{Name: "_sip._tcp.test", Type: "SRV", Value: "sip.test",
			Priority: intp(10), Weight: intp(5)}, false},
		{"txt", store.DNSRecord{Name: "test", Type: "TXT", Value: "v=spf1 -all"}, true},
		{"unsupported type", store.DNSRecord{Name: "test", Type: "CAA", Value: "x"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.rec)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, fault.ErrInvalid)
			}
		})
	}
}

func TestValidateTXTChunkCap(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	err := Validate(&store.DNSRecord{Name: "test", Type: "TXT", Value: string(long)})
	assert.ErrorIs(t, err, fault.ErrInvalid)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("a.b-c.example"))
	assert.NoError(t, ValidateName("example."), "trailing dot is tolerated")
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("-leading.example"))
	assert.Error(t, ValidateName("trailing-.example"))
	assert.Error(t, ValidateName("sp ace.example"))

	long := "a"
	for len(long) < 64 {
		long += "a"
	}
	assert.Error(t, ValidateName(long+".example"), "label over 63 chars")
}

func TestCreateClampsTTL(t *testing.T) {
	recs, envID := newTestRecords(t)
	ctx := context.Background()

	low := &store.DNSRecord{EnvironmentID: envID, Name: "low.test", Type: "A", Value: "10.0.0.1", TTL: 5}
	require.NoError(t, recs.Create(ctx, low))
	assert.Equal(t, MinTTL, low.TTL)

	high := &store.DNSRecord{EnvironmentID: envID, Name: "high.test", Type: "A", Value: "10.0.0.2", TTL: 999999}
	require.NoError(t, recs.Create(ctx, high))
	assert.Equal(t, MaxTTL, high.TTL)
}

func TestCreateDuplicateConflicts(t *testing.T) {
	recs, envID := newTestRecords(t)
	ctx := context.Background()

	rec := store.DNSRecord{EnvironmentID: envID, Name: "dup.test", Type: "A", Value: "10.0.0.1", TTL: 300}
	first := rec
	require.NoError(t, recs.Create(ctx, &first))
	second := rec
	assert.ErrorIs(t, recs.Create(ctx, &second), fault.ErrConflict)
}

func TestCreateBulkPartialSuccess(t *testing.T) {
	recs, envID := newTestRecords(t)
	ctx := context.Background()

	batch := []*store.DNSRecord{
		{EnvironmentID: envID, Name: "one.test", Type: "A", Value: "10.0.0.1", TTL: 300},
		{EnvironmentID: envID, Name: "bad.test", Type: "A", Value: "not-an-ip", TTL: 300},
		{EnvironmentID: envID, Name: "two.test", Type: "A", Value: "10.0.0.2", TTL: 300},
	}
	results, err := recs.CreateBulk(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, fault.ErrInvalid)
	assert.NoError(t, results[2].Err)

	stored, err := recs.List(ctx, envID)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "valid siblings persist despite the failure")
}

func TestCreateBulkCaps(t *testing.T) {
	recs, envID := newTestRecords(t)

	_, err := recs.CreateBulk(context.Background(), nil)
	assert.ErrorIs(t, err, fault.ErrInvalid)

	batch := make([]*store.DNSRecord, MaxBulkRecords+1)
	for i := range batch {
		batch[i] = &store.DNSRecord{EnvironmentID: envID, Name: "x.test", Type: "A", Value: "10.0.0.1"}
	}
	_, err = recs.CreateBulk(context.Background(), batch)
	assert.ErrorIs(t, err, fault.ErrInvalid)
}

func TestDeleteScopedToEnvironment(t *testing.T) {
	recs, envID := newTestRecords(t)
	ctx := context.Background()

	rec := &store.DNSRecord{EnvironmentID: envID, Name: "del.test", Type: "A", Value: "10.0.0.1", TTL: 300}
	require.NoError(t, recs.Create(ctx, rec))

	assert.ErrorIs(t, recs.Delete(ctx, "env_other", rec.ID), fault.ErrNotFound)
	require.NoError(t, recs.Delete(ctx, envID, rec.ID))
	assert.ErrorIs(t, recs.Delete(ctx, envID, rec.ID), fault.ErrNotFound)
}

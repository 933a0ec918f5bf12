// Package dnszone manages per-environment DNS records and the optional UDP
// responder that answers standard queries from them.
package dnszone

import (
	"context"
	"net"
	"strings"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// TTL bounds; out-of-range values are clamped, not rejected.
const (
	MinTTL = 60
	MaxTTL = 86400
)

// MaxBulkRecords bounds one bulk insert call.
const MaxBulkRecords = 100

// SupportedTypes lists the record types the store accepts.
var SupportedTypes = map[string]bool{
	"A": true, "AAAA": true, "CNAME": true, "MX": true,
	"TXT": true, "NS": true, "SRV": true, "PTR": true,
}

// Records provides validated CRUD over an environment's DNS records.
type Records struct {
	Store *store.Store
}

// NewRecords builds the record service.
func NewRecords(st *store.Store) *Records {
	return &Records{Store: st}
}

// Create validates and persists one record. Invalid shapes are rejected with
// InvalidRequest and nothing is persisted.
func (r *Records) Create(ctx context.Context, rec *store.DNSRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	rec.TTL = clampTTL(rec.TTL)
	return r.Store.CreateDNSRecord(ctx, rec)
}

// BulkResult reports per-record success or failure for a bulk insert.
type BulkResult struct {
	Record *store.DNSRecord
	Err    error
}

// CreateBulk inserts up to MaxBulkRecords records. Partial success is
// explicit: each record gets its own result and valid ones persist even
// when siblings fail.
func (r *Records) CreateBulk(ctx context.Context, recs []*store.DNSRecord) ([]BulkResult, error) {
	if len(recs) == 0 {
		return nil, fault.Invalidf("no records given")
	}
	if len(recs) > MaxBulkRecords {
		return nil, fault.Invalidf("at most %d records per call, got %d", MaxBulkRecords, len(recs))
	}
	out := make([]BulkResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, BulkResult{Record: rec, Err: r.Create(ctx, rec)})
	}
	return out, nil
}

// List returns an environment's records.
func (r *Records) List(ctx context.Context, envID string) ([]*store.DNSRecord, error) {
	return r.Store.DNSRecordsByEnvironment(ctx, envID)
}

// Delete removes one record scoped to an environment.
func (r *Records) Delete(ctx context.Context, envID string, id int64) error {
	return r.Store.DeleteDNSRecord(ctx, envID, id)
}

// Validate checks one record against the per-type shape rules.
func Validate(rec *store.DNSRecord) error {
	rec.Type = strings.ToUpper(rec.Type)
	if !SupportedTypes[rec.Type] {
		return fault.Invalidf("unsupported record type %q", rec.Type)
	}
	if err := ValidateName(rec.Name); err != nil {
		return err
	}

	switch rec.Type {
	case "A":
		ip := net.ParseIP(rec.Value)
		if ip == nil || ip.To4() == nil {
			return fault.Invalidf("A record value %q is not an IPv4 address", rec.Value)
		}
	case "AAAA":
		ip := net.ParseIP(rec.Value)
		if ip == nil || ip.To4() != nil {
			return fault.Invalidf("AAAA record value %q is not an IPv6 address", rec.Value)
		}
	case "CNAME", "NS", "PTR":
		if err := ValidateName(rec.Value); err != nil {
			return fault.Invalidf("%s record value %q is not a valid name", rec.Type, rec.Value)
		}
	case "MX":
		if rec.Priority == nil {
			return fault.Invalidf("MX record requires priority")
		}
		if err := ValidateName(rec.Value); err != nil {
			return fault.Invalidf("MX record value %q is not a valid name", rec.Value)
		}
	case "SRV":
		if rec.Priority == nil || rec.Weight == nil || rec.Port == nil {
			return fault.Invalidf("SRV record requires priority, weight, and port")
		}
		if err := ValidateName(rec.Value); err != nil {
			return fault.Invalidf("SRV record target %q is not a valid name", rec.Value)
		}
	case "TXT":
		// Arbitrary bytes, but each chunk is capped at 255 characters.
		if len(rec.Value) > 255 {
			return fault.Invalidf("TXT record chunk exceeds 255 characters")
		}
	}
	return nil
}

// ValidateName checks a DNS-label sequence: total length ≤253 and each label
// 1..63 chars of [a-z0-9-], not edge-hyphenated.
func ValidateName(name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" || len(name) > 253 {
		return fault.Invalidf("name length must be 1..253, got %d", len(name))
	}
	for _, label := range strings.Split(name, ".") {
		if err := validateLabel(label); err != nil {
			return err
		}
	}
	return nil
}

func validateLabel(label string) error {
	if label == "" || len(label) > 63 {
		return fault.Invalidf("label length must be 1..63")
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return fault.Invalidf("label %q must not start or end with a hyphen", label)
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fault.Invalidf("label %q contains invalid character %q", label, c)
		}
	}
	return nil
}

func clampTTL(ttl int) int {
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}

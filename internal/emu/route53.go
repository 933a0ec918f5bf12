package emu

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/fault"
	"github.com/afterdarksys/mockfactory/internal/store"
)

// Route53 translator: hosted zones plus record-set changes, both backed by
// the DNS record store, so records created here resolve through the UDP
// responder like any other.

func writeRoute53Error(w http.ResponseWriter, status int, code, message string) {
	writeQueryError(w, status, code, message)
}

type r53HostedZone struct {
	ID                     string `xml:"Id"`
	Name                   string `xml:"Name"`
	ResourceRecordSetCount int    `xml:"ResourceRecordSetCount"`
}

func r53Zone(z *store.HostedZone, records int) r53HostedZone {
	return r53HostedZone{
		ID:                     "/hostedzone/" + z.ID,
		Name:                   z.Name + ".",
		ResourceRecordSetCount: records,
	}
}

type r53CreateZoneRequest struct {
	XMLName xml.Name `xml:"CreateHostedZoneRequest"`
	Name    string   `xml:"Name"`
}

type r53CreateZoneResponse struct {
	XMLName    xml.Name      `xml:"CreateHostedZoneResponse"`
	HostedZone r53HostedZone `xml:"HostedZone"`
}

func (rt *Router) r53CreateZone(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	var req r53CreateZoneRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeRoute53Error(w, http.StatusBadRequest, "InvalidInput", "zone Name required")
		return
	}
	z := &store.HostedZone{
		ID:            "Z" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:14],
		EnvironmentID: env.ID,
		Name:          strings.ToLower(strings.TrimSuffix(req.Name, ".")),
	}
	if err := rt.Store.CreateHostedZone(r.Context(), z); err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	writeXML(w, http.StatusCreated, r53CreateZoneResponse{HostedZone: r53Zone(z, 0)})
}

type r53ListZonesResponse struct {
	XMLName xml.Name        `xml:"ListHostedZonesResponse"`
	Zones   []r53HostedZone `xml:"HostedZones>HostedZone"`
}

func (rt *Router) r53ListZones(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	zones, err := rt.Store.HostedZonesByEnvironment(r.Context(), env.ID)
	if err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	resp := r53ListZonesResponse{Zones: []r53HostedZone{}}
	for _, z := range zones {
		recs, _ := rt.zoneRecords(r, z)
		resp.Zones = append(resp.Zones, r53Zone(z, len(recs)))
	}
	writeXML(w, http.StatusOK, resp)
}

type r53GetZoneResponse struct {
	XMLName    xml.Name      `xml:"GetHostedZoneResponse"`
	HostedZone r53HostedZone `xml:"HostedZone"`
}

func (rt *Router) r53GetZone(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	z, err := rt.Store.HostedZone(r.Context(), env.ID, chi.URLParam(r, "zone"))
	if err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	recs, _ := rt.zoneRecords(r, z)
	writeXML(w, http.StatusOK, r53GetZoneResponse{HostedZone: r53Zone(z, len(recs))})
}

// zoneRecords filters the environment's DNS records to those under the zone
// apex. Records do not carry a zone id; the zone is a naming scope.
func (rt *Router) zoneRecords(r *http.Request, z *store.HostedZone) ([]*store.DNSRecord, error) {
	all, err := rt.Store.DNSRecordsByEnvironment(r.Context(), z.EnvironmentID)
	if err != nil {
		return nil, err
	}
	var out []*store.DNSRecord
	for _, rec := range all {
		if rec.Name == z.Name || strings.HasSuffix(rec.Name, "."+z.Name) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type r53ResourceRecord struct {
	Value string `xml:"Value"`
}

type r53RecordSet struct {
	Name    string              `xml:"Name"`
	Type    string              `xml:"Type"`
	TTL     int                 `xml:"TTL"`
	Records []r53ResourceRecord `xml:"ResourceRecords>ResourceRecord"`
}

type r53ChangeRequest struct {
	XMLName xml.Name `xml:"ChangeResourceRecordSetsRequest"`
	Changes []struct {
		Action    string       `xml:"Action"`
		RecordSet r53RecordSet `xml:"ResourceRecordSet"`
	} `xml:"ChangeBatch>Changes>Change"`
}

type r53ChangeResponse struct {
	XMLName    xml.Name `xml:"ChangeResourceRecordSetsResponse"`
	ChangeInfo struct {
		ID          string `xml:"Id"`
		Status      string `xml:"Status"`
		SubmittedAt string `xml:"SubmittedAt"`
	} `xml:"ChangeInfo"`
}

func (rt *Router) r53ChangeRRSets(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	z, err := rt.Store.HostedZone(r.Context(), env.ID, chi.URLParam(r, "zone"))
	if err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	var req r53ChangeRequest
	if err := xml.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Changes) == 0 {
		writeRoute53Error(w, http.StatusBadRequest, "InvalidChangeBatch", "no changes given")
		return
	}

	for _, ch := range req.Changes {
		rs := ch.RecordSet
		name := strings.ToLower(strings.TrimSuffix(rs.Name, "."))
		switch strings.ToUpper(ch.Action) {
		case "CREATE", "UPSERT":
			for _, rr := range rs.Records {
				rec, err := recordFromRRSet(env.ID, name, rs.Type, rr.Value, rs.TTL)
				if err != nil {
					queryFault(w, err, "NoSuchHostedZone")
					return
				}
				if err := rt.DNS.Create(r.Context(), rec); err != nil {
					queryFault(w, err, "NoSuchHostedZone")
					return
				}
			}
		case "DELETE":
			existing, err := rt.zoneRecords(r, z)
			if err != nil {
				queryFault(w, err, "NoSuchHostedZone")
				return
			}
			for _, rr := range rs.Records {
				for _, rec := range existing {
					if rec.Name == name && rec.Type == strings.ToUpper(rs.Type) && rec.Value == rrValueOnly(rs.Type, rr.Value) {
						if err := rt.Store.DeleteDNSRecord(r.Context(), env.ID, rec.ID); err != nil {
							queryFault(w, err, "NoSuchHostedZone")
							return
						}
					}
				}
			}
		default:
			writeRoute53Error(w, http.StatusBadRequest, "InvalidChangeBatch",
				"unsupported action "+ch.Action)
			return
		}
	}

	resp := r53ChangeResponse{}
	resp.ChangeInfo.ID = "/change/C" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:13]
	resp.ChangeInfo.Status = "INSYNC"
	resp.ChangeInfo.SubmittedAt = time.Now().UTC().Format(time.RFC3339)
	writeXML(w, http.StatusOK, resp)
}

// recordFromRRSet parses one Route53 resource record into a store record.
// MX values are "<priority> <target>"; SRV values are
// "<priority> <weight> <port> <target>".
func recordFromRRSet(envID, name, rtype, value string, ttl int) (*store.DNSRecord, error) {
	rec := &store.DNSRecord{
		EnvironmentID: envID,
		Name:          name,
		Type:          strings.ToUpper(rtype),
		TTL:           ttl,
	}
	fields := strings.Fields(value)
	switch rec.Type {
	case "MX":
		if len(fields) == 2 {
			if p, err := strconv.Atoi(fields[0]); err == nil {
				rec.Priority = &p
				rec.Value = strings.TrimSuffix(fields[1], ".")
				return rec, nil
			}
		}
	case "SRV":
		if len(fields) == 4 {
			p, err1 := strconv.Atoi(fields[0])
			wgt, err2 := strconv.Atoi(fields[1])
			port, err3 := strconv.Atoi(fields[2])
			if err1 == nil && err2 == nil && err3 == nil {
				rec.Priority, rec.Weight, rec.Port = &p, &wgt, &port
				rec.Value = strings.TrimSuffix(fields[3], ".")
				return rec, nil
			}
		}
	default:
		rec.Value = strings.TrimSuffix(value, ".")
		return rec, nil
	}
	return nil, fault.Invalidf("malformed %s value %q", rec.Type, value)
}

// rrValueOnly strips the MX/SRV numeric fields so stored values compare.
func rrValueOnly(rtype, value string) string {
	fields := strings.Fields(value)
	switch strings.ToUpper(rtype) {
	case "MX":
		if len(fields) == 2 {
			return strings.TrimSuffix(fields[1], ".")
		}
	case "SRV":
		if len(fields) == 4 {
			return strings.TrimSuffix(fields[3], ".")
		}
	}
	return strings.TrimSuffix(value, ".")
}

type r53ListRRSetsResponse struct {
	XMLName    xml.Name       `xml:"ListResourceRecordSetsResponse"`
	RecordSets []r53RecordSet `xml:"ResourceRecordSets>ResourceRecordSet"`
}

func (rt *Router) r53ListRRSets(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	z, err := rt.Store.HostedZone(r.Context(), env.ID, chi.URLParam(r, "zone"))
	if err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	recs, err := rt.zoneRecords(r, z)
	if err != nil {
		queryFault(w, err, "NoSuchHostedZone")
		return
	}
	resp := r53ListRRSetsResponse{RecordSets: []r53RecordSet{}}
	for _, rec := range recs {
		value := rec.Value
		switch rec.Type {
		case "MX":
			if rec.Priority != nil {
				value = strconv.Itoa(*rec.Priority) + " " + rec.Value
			}
		case "SRV":
			if rec.Priority != nil && rec.Weight != nil && rec.Port != nil {
				value = strconv.Itoa(*rec.Priority) + " " + strconv.Itoa(*rec.Weight) + " " +
					strconv.Itoa(*rec.Port) + " " + rec.Value
			}
		}
		resp.RecordSets = append(resp.RecordSets, r53RecordSet{
			Name:    rec.Name + ".",
			Type:    rec.Type,
			TTL:     rec.TTL,
			Records: []r53ResourceRecord{{Value: value}},
		})
	}
	writeXML(w, http.StatusOK, resp)
}

package emu

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/afterdarksys/mockfactory/internal/store"
)

// EC2 translator: Query-protocol subset {RunInstances, DescribeInstances,
// StopInstances, StartInstances, TerminateInstances}. Instances are
// synthesized rows; no VM is launched. Transitional states (pending,
// stopping) settle on the next DescribeInstances.

func (rt *Router) ec2Dispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeQueryError(w, http.StatusBadRequest, "InvalidRequest", "unparseable form")
		return
	}
	switch action := r.Form.Get("Action"); action {
	case "RunInstances":
		rt.ec2RunInstances(w, r)
	case "DescribeInstances":
		rt.ec2DescribeInstances(w, r)
	case "StopInstances":
		rt.ec2ChangeState(w, r, "running", "stopping")
	case "StartInstances":
		rt.ec2ChangeState(w, r, "stopped", "pending")
	case "TerminateInstances":
		rt.ec2ChangeState(w, r, "", "terminated")
	default:
		notImplementedQuery(w, action)
	}
}

type ec2Instance struct {
	InstanceID   string `xml:"instanceId"`
	InstanceType string `xml:"instanceType"`
	PrivateIP    string `xml:"privateIpAddress"`
	PublicIP     string `xml:"ipAddress,omitempty"`
	LaunchTime   string `xml:"launchTime"`
	State        struct {
		Name string `xml:"name"`
	} `xml:"instanceState"`
}

func ec2Item(inst *store.EC2Instance) ec2Instance {
	item := ec2Instance{
		InstanceID:   inst.ID,
		InstanceType: inst.InstanceType,
		PrivateIP:    inst.PrivateIP,
		LaunchTime:   inst.LaunchedAt.UTC().Format(time.RFC3339),
	}
	if inst.PublicIP != nil {
		item.PublicIP = *inst.PublicIP
	}
	item.State.Name = inst.State
	return item
}

type ec2RunResponse struct {
	XMLName   xml.Name      `xml:"RunInstancesResponse"`
	RequestID string        `xml:"requestId"`
	Instances []ec2Instance `xml:"instancesSet>item"`
}

func (rt *Router) ec2RunInstances(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	instType := r.Form.Get("InstanceType")
	if instType == "" {
		instType = "t2.micro"
	}
	count, _ := strconv.Atoi(r.Form.Get("MinCount"))
	if count < 1 {
		count = 1
	}
	if count > 20 {
		writeQueryError(w, http.StatusBadRequest, "InstanceLimitExceeded", "at most 20 instances per call")
		return
	}

	existing, err := rt.Store.CountEC2Instances(r.Context(), env.ID)
	if err != nil {
		queryFault(w, err, "InvalidInstanceID.NotFound")
		return
	}

	resp := ec2RunResponse{RequestID: uuid.NewString()}
	for i := 0; i < count; i++ {
		idx := existing + i + 1
		inst := &store.EC2Instance{
			ID:            awsResourceID("i-"),
			EnvironmentID: env.ID,
			State:         "pending",
			InstanceType:  instType,
			PrivateIP:     fmt.Sprintf("10.0.%d.%d", idx/250, idx%250+1),
		}
		if err := rt.Store.CreateEC2Instance(r.Context(), inst); err != nil {
			queryFault(w, err, "InvalidInstanceID.NotFound")
			return
		}
		resp.Instances = append(resp.Instances, ec2Item(inst))
	}
	writeXML(w, http.StatusOK, resp)
}

type ec2DescribeResponse struct {
	XMLName   xml.Name `xml:"DescribeInstancesResponse"`
	RequestID string   `xml:"requestId"`
	Reservations []struct {
		Instances []ec2Instance `xml:"instancesSet>item"`
	} `xml:"reservationSet>item"`
}

// settled maps transitional states to their resting state.
var ec2Settled = map[string]string{
	"pending":  "running",
	"stopping": "stopped",
}

func (rt *Router) ec2DescribeInstances(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r.Context())
	instances, err := rt.Store.EC2InstancesByEnvironment(r.Context(), env.ID)
	if err != nil {
		queryFault(w, err, "InvalidInstanceID.NotFound")
		return
	}
	resp := ec2DescribeResponse{RequestID: uuid.NewString()}
	var res struct {
		Instances []ec2Instance `xml:"instancesSet>item"`
	}
	for _, inst := range instances {
		if next, ok := ec2Settled[inst.State]; ok {
			if err := rt.Store.SetEC2State(r.Context(), env.ID, inst.ID, next); err == nil {
				inst.State = next
			}
		}
		res.Instances = append(res.Instances, ec2Item(inst))
	}
	resp.Reservations = append(resp.Reservations, res)
	writeXML(w, http.StatusOK, resp)
}

type ec2StateChange struct {
	InstanceID   string `xml:"instanceId"`
	CurrentState struct {
		Name string `xml:"name"`
	} `xml:"currentState"`
	PreviousState struct {
		Name string `xml:"name"`
	} `xml:"previousState"`
}

type ec2StateChangeResponse struct {
	XMLName   xml.Name         `xml:"StateChangeResponse"`
	RequestID string           `xml:"requestId"`
	Changes   []ec2StateChange `xml:"instancesSet>item"`
}

// ec2ChangeState applies Stop/Start/Terminate. A non-empty from restricts
// which current states may transition; terminate accepts any live state.
func (rt *Router) ec2ChangeState(w http.ResponseWriter, r *http.Request, from, to string) {
	env := envFrom(r.Context())
	ids := memberParams(r.Form, "InstanceId")
	if len(ids) == 0 {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter", "InstanceId.1 required")
		return
	}
	resp := ec2StateChangeResponse{RequestID: uuid.NewString()}
	for _, id := range ids {
		inst, err := rt.Store.EC2Instance(r.Context(), env.ID, id)
		if err != nil {
			queryFault(w, err, "InvalidInstanceID.NotFound")
			return
		}
		if inst.State == "terminated" {
			writeQueryError(w, http.StatusBadRequest, "IncorrectInstanceState",
				"instance "+id+" is terminated")
			return
		}
		if from != "" && inst.State != from {
			// settle a transitional state first, then re-check
			if next, ok := ec2Settled[inst.State]; ok && next == from {
				inst.State = next
			} else {
				writeQueryError(w, http.StatusBadRequest, "IncorrectInstanceState",
					"instance "+id+" is "+inst.State)
				return
			}
		}
		if err := rt.Store.SetEC2State(r.Context(), env.ID, id, to); err != nil {
			queryFault(w, err, "InvalidInstanceID.NotFound")
			return
		}
		var ch ec2StateChange
		ch.InstanceID = id
		ch.PreviousState.Name = inst.State
		ch.CurrentState.Name = to
		resp.Changes = append(resp.Changes, ch)
	}
	writeXML(w, http.StatusOK, resp)
}

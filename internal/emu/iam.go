package emu

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// IAM translator: in-memory synthesized users, roles, and policies per
// environment. No authorization effect anywhere; the records only exist so
// SDK flows that create identities before using other services succeed.

type iamEntity struct {
	Name      string
	ARN       string
	CreatedAt time.Time
}

type iamState struct {
	users    map[string]iamEntity
	roles    map[string]iamEntity
	policies map[string]iamEntity
}

func (rt *Router) iamFor(envID string) *iamState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st, ok := rt.iam[envID]
	if !ok {
		st = &iamState{
			users:    make(map[string]iamEntity),
			roles:    make(map[string]iamEntity),
			policies: make(map[string]iamEntity),
		}
		rt.iam[envID] = st
	}
	return st
}

func (rt *Router) iamDispatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeQueryError(w, http.StatusBadRequest, "InvalidRequest", "unparseable form")
		return
	}
	env := envFrom(r.Context())
	st := rt.iamFor(env.ID)

	switch action := r.Form.Get("Action"); action {
	case "CreateUser":
		rt.iamCreate(w, r, env.ID, st.users, "UserName", "user", "CreateUserResponse", "User")
	case "GetUser":
		rt.iamGet(w, r, st.users, "UserName", "NoSuchEntity", "GetUserResponse", "User")
	case "ListUsers":
		rt.iamList(w, st.users, "ListUsersResponse")
	case "DeleteUser":
		rt.iamDelete(w, r, st.users, "UserName", "DeleteUserResponse")
	case "CreateRole":
		rt.iamCreate(w, r, env.ID, st.roles, "RoleName", "role", "CreateRoleResponse", "Role")
	case "ListRoles":
		rt.iamList(w, st.roles, "ListRolesResponse")
	case "DeleteRole":
		rt.iamDelete(w, r, st.roles, "RoleName", "DeleteRoleResponse")
	case "CreatePolicy":
		rt.iamCreate(w, r, env.ID, st.policies, "PolicyName", "policy", "CreatePolicyResponse", "Policy")
	case "ListPolicies":
		rt.iamList(w, st.policies, "ListPoliciesResponse")
	case "DeletePolicy":
		rt.iamDelete(w, r, st.policies, "PolicyName", "DeletePolicyResponse")
	default:
		notImplementedQuery(w, action)
	}
}

type iamEntityXML struct {
	XMLName  xml.Name
	Name     string `xml:"Name"`
	ARN      string `xml:"Arn"`
	CreateAt string `xml:"CreateDate"`
}

type iamSingleResponse struct {
	XMLName   xml.Name
	Entity    iamEntityXML
	RequestID string `xml:"ResponseMetadata>RequestId"`
}

func iamXML(tag string, e iamEntity) iamEntityXML {
	return iamEntityXML{
		XMLName:  xml.Name{Local: tag},
		Name:     e.Name,
		ARN:      e.ARN,
		CreateAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (rt *Router) iamCreate(w http.ResponseWriter, r *http.Request, envID string, set map[string]iamEntity, param, kind, root, tag string) {
	name := r.Form.Get(param)
	if name == "" {
		writeQueryError(w, http.StatusBadRequest, "MissingParameter", param+" required")
		return
	}
	rt.mu.Lock()
	if _, exists := set[name]; exists {
		rt.mu.Unlock()
		writeQueryError(w, http.StatusConflict, "EntityAlreadyExists", kind+" "+name+" already exists")
		return
	}
	e := iamEntity{
		Name:      name,
		ARN:       "arn:aws:iam::" + envID + ":" + kind + "/" + name,
		CreatedAt: time.Now(),
	}
	set[name] = e
	rt.mu.Unlock()

	writeXML(w, http.StatusOK, iamSingleResponse{
		XMLName:   xml.Name{Local: root},
		Entity:    iamXML(tag, e),
		RequestID: uuid.NewString(),
	})
}

func (rt *Router) iamGet(w http.ResponseWriter, r *http.Request, set map[string]iamEntity, param, notFoundCode, root, tag string) {
	name := r.Form.Get(param)
	rt.mu.Lock()
	e, ok := set[name]
	rt.mu.Unlock()
	if !ok {
		writeQueryError(w, http.StatusNotFound, notFoundCode, "no such entity "+name)
		return
	}
	writeXML(w, http.StatusOK, iamSingleResponse{
		XMLName:   xml.Name{Local: root},
		Entity:    iamXML(tag, e),
		RequestID: uuid.NewString(),
	})
}

type iamListResponse struct {
	XMLName   xml.Name
	Members   []iamEntityXML `xml:"member"`
	RequestID string         `xml:"ResponseMetadata>RequestId"`
}

func (rt *Router) iamList(w http.ResponseWriter, set map[string]iamEntity, root string) {
	rt.mu.Lock()
	members := make([]iamEntityXML, 0, len(set))
	for _, e := range set {
		members = append(members, iamXML("member", e))
	}
	rt.mu.Unlock()

	writeXML(w, http.StatusOK, iamListResponse{
		XMLName:   xml.Name{Local: root},
		Members:   members,
		RequestID: uuid.NewString(),
	})
}

func (rt *Router) iamDelete(w http.ResponseWriter, r *http.Request, set map[string]iamEntity, param, root string) {
	name := r.Form.Get(param)
	rt.mu.Lock()
	_, ok := set[name]
	delete(set, name)
	rt.mu.Unlock()
	if !ok {
		writeQueryError(w, http.StatusNotFound, "NoSuchEntity", "no such entity "+name)
		return
	}
	sqsAck(w, root)
}

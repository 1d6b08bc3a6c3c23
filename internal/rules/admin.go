package rules

import (
	"net/url"
	"strings"
)

// AdminAction enumerates the recognized stats admin POST actions (spec
// §6 "Stats admin protocol").
type AdminAction string

const (
	AdminDisable  AdminAction = "disable"
	AdminEnable   AdminAction = "enable"
	AdminStop     AdminAction = "stop"
	AdminStart    AdminAction = "start"
	AdminShutdown AdminAction = "shutdown"
)

// AdminStatus is the outcome token appended to the post-POST redirect's
// Location as "st=<status>".
type AdminStatus string

const (
	StatusDeny AdminStatus = "DENY"
	StatusDone AdminStatus = "DONE"
	StatusErrP AdminStatus = "ERRP"
	StatusExcd AdminStatus = "EXCD"
	StatusNone AdminStatus = "NONE"
	StatusPart AdminStatus = "PART"
	StatusUnkn AdminStatus = "UNKN"
)

// AdminRequest is a decoded stats admin POST body.
type AdminRequest struct {
	Backend string
	Action  AdminAction
	Servers []string
}

// ParseAdminRequest decodes an application/x-www-form-urlencoded admin
// POST body, recognizing "b" (backend), "action", and one or more "s"
// (server) fields.
func ParseAdminRequest(body string) (*AdminRequest, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, err
	}
	req := &AdminRequest{
		Backend: values.Get("b"),
		Action:  AdminAction(strings.ToLower(values.Get("action"))),
		Servers: values["s"],
	}
	return req, nil
}

// Valid reports whether Action is one of the recognized admin actions.
func (r *AdminRequest) Valid() bool {
	switch r.Action {
	case AdminDisable, AdminEnable, AdminStop, AdminStart, AdminShutdown:
		return true
	default:
		return false
	}
}

// BuildAdminRedirectLocation appends "st=<status>" to uri per spec's
// "answers 303 with Location: <uri>;st=<status>".
func BuildAdminRedirectLocation(uri string, status AdminStatus) string {
	return uri + ";st=" + string(status)
}

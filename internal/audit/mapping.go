package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Membership routes are audited as user_added, user_removed and role_changed on resource "user".
var routeOverrides = map[string]ActionResource{
	"POST /api/organizations/{orgID}/members":              {Action: "user_added", Resource: "user"},
	"DELETE /api/organizations/{orgID}/members/{userID}":   {Action: "user_removed", Resource: "user"},
	"PUT /api/organizations/{orgID}/members/{userID}/role": {Action: "role_changed", Resource: "user"},
	"POST /api/auth/register":                              {Action: "register", Resource: "user"},
	"POST /api/auth/refresh":                               {Action: "refresh", Resource: "session"},
	"POST /api/credits/guard":                              {Action: "check", Resource: "credits"},
	"POST /api/auth/login":                                 {Action: "login", Resource: "session"},
	"POST /api/auth/logout":                                {Action: "logout", Resource: "session"},
	"POST /api/auth/switch-org":                            {Action: "switch_org", Resource: "session"},
	"POST /api/admin/credits/{orgID}/grant":                {Action: "grant", Resource: "credits"},
	"POST /api/credits/consume":                            {Action: "consume", Resource: "credits"},
	"POST /api/service-requests/{requestID}/quotes":        {Action: "submit", Resource: "quote"},
	"POST /api/service-requests/{requestID}/dispute":       {Action: "open", Resource: "dispute"},
}

// ParseRoute maps a method and chi route pattern (e.g. POST /api/equipment) to an audit action and resource.
//
// The resource is the last literal segment that names a collection, singularized; the action is the HTTP
// verb, or the trailing literal segment for command routes (POST /api/equipment/{id}/retire -> retire).
func ParseRoute(method, pattern string) ActionResource {
	if ar, ok := routeOverrides[method+" "+pattern]; ok {
		return ar
	}
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	if len(segs) > 0 && segs[0] == "api" {
		segs = segs[1:]
	}
	if len(segs) > 0 && segs[0] == "admin" {
		segs = segs[1:]
	}
	if len(segs) == 0 || segs[0] == "" {
		return ActionResource{Action: "unknown", Resource: "unknown"}
	}

	var resource, command string
	for i, s := range segs {
		if isParam(s) {
			continue
		}
		next := i + 1
		if next == len(segs) && resource != "" && i > 0 && isParam(segs[i-1]) {
			command = s
			break
		}
		resource = s
	}
	if resource == "" {
		resource = "unknown"
	}
	resource = singular(strings.ReplaceAll(resource, "-", "_"))

	if command != "" {
		return ActionResource{Action: strings.ReplaceAll(command, "-", "_"), Resource: resource}
	}
	return ActionResource{Action: methodToAction(method), Resource: resource}
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return strings.TrimSuffix(s, "ies") + "y"
	case strings.HasSuffix(s, "ss"):
		return s
	case strings.HasSuffix(s, "s"):
		return strings.TrimSuffix(s, "s")
	}
	return s
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet:
		return "get"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// Mutating reports whether requests with method change state and therefore get audited.
func Mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

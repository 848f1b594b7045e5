package api

import (
	echo "github.com/labstack/echo/v5"
)

// Role is the viewer class used to filter the live event stream: the CEO
// sees everything, an employee sees the day-to-day operational events, a
// client sees only events about their own aggregate, and an
// unauthenticated caller sees nothing.
type Role string

const (
	RoleCEO          Role = "ceo"
	RoleEmployee     Role = "employee"
	RoleClient       Role = "client"
	RoleUnauthorized Role = ""
)

// employeeVisibleEventTypes is the fixed list of event types an employee
// role may observe on the live stream — day-to-day operational events,
// excluding the control-plane/audit events (approvals, overrides,
// autonomic decisions) reserved for the CEO view.
var employeeVisibleEventTypes = map[string]bool{
	"LEAD_RECEIVED": true, "LEAD_QUALIFIED": true, "MEETING_SCHEDULED": true,
	"MEETING_COMPLETED": true, "INTENT_INFERRED": true,
	"TASK_CREATED": true, "TASK_ASSIGNED": true, "TASK_COMPLETED": true,
	"PROJECT_STARTED": true, "PROJECT_AT_RISK": true, "PROJECT_COMPLETED": true,
	"QUOTE_GENERATED": true, "QUOTE_APPROVED": true,
	"INVOICE_ISSUED": true, "PAYMENT_RECEIVED": true, "PAYMENT_REMINDER_SENT": true,
}

// extractAuthor extracts the acting identity from oauth2-proxy headers.
// Priority: X-Forwarded-User > X-Forwarded-Email > "api-client".
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}

// extractRole resolves the caller's Role from the role query parameter,
// falling back to the X-User-Role header set by the reverse proxy when
// the query parameter is absent. An absent or unrecognized value means
// unauthenticated, which sees nothing on the live stream.
func extractRole(c *echo.Context) Role {
	role := c.QueryParam("role")
	if role == "" {
		role = c.Request().Header.Get("X-User-Role")
	}
	switch Role(role) {
	case RoleCEO:
		return RoleCEO
	case RoleEmployee:
		return RoleEmployee
	case RoleClient:
		return RoleClient
	default:
		return RoleUnauthorized
	}
}

// visibleToRole applies the role-based filtering rule for one envelope on
// the live stream: CEO sees everything, employee sees the fixed
// operational event-type list, client sees only events whose
// aggregate_id (or payload client_id) is their own, unauthenticated sees
// nothing.
func visibleToRole(role Role, userID, aggregateID string, clientID string, eventType string) bool {
	switch role {
	case RoleCEO:
		return true
	case RoleEmployee:
		return employeeVisibleEventTypes[eventType]
	case RoleClient:
		return userID != "" && (aggregateID == userID || clientID == userID)
	default:
		return false
	}
}

package auth

import (
	"fmt"
	"strconv"
	"strings"
)

type CommandReason string

const (
	CommandOK            CommandReason = "ok"
	CommandUnauthorized  CommandReason = "unauthorized"
	CommandInvalidFormat CommandReason = "invalid_command_format"
)

// Outcome is the user-visible result of an /auth command. Message is
// always safe to relay back to the chat verbatim.
type Outcome struct {
	Message string
	Reason  CommandReason
}

var adminCommandHelp = strings.Join([]string{
	"/auth add <user_id>: authorize a user",
	"/auth remove <user_id>: revoke a user",
	"/auth list: show authorized users",
	"/auth token <user_id>: mint a one-time grant token",
	"/auth clear: revoke everyone except the administrator",
	"/auth help: show this list",
}, "\n")

// HandleCommand parses and executes an /auth command on behalf of caller.
// Non-admin callers may only redeem a grant token; admin callers get the
// full command surface. Malformed input yields a generic invalid-format
// outcome, never an error.
func (m *Manager) HandleCommand(callerID, text string) Outcome {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 || parts[0] != "/auth" {
		return Outcome{Message: "invalid command format", Reason: CommandInvalidFormat}
	}

	if !m.IsAdmin(callerID) {
		if len(parts) == 2 {
			return m.redeemOutcome(parts[1])
		}
		return Outcome{Message: "permission denied", Reason: CommandUnauthorized}
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "list":
			return Outcome{Message: m.userListMessage(), Reason: CommandOK}
		case "clear":
			removed := m.ClearAll()
			return Outcome{
				Message: fmt.Sprintf("cleared all authorizations except the administrator, %d removed", removed),
				Reason:  CommandOK,
			}
		case "help":
			return Outcome{Message: adminCommandHelp, Reason: CommandOK}
		}
	}

	if len(parts) == 3 {
		action, target := parts[1], parts[2]
		if _, err := strconv.ParseInt(target, 10, 64); err != nil {
			return Outcome{Message: "user id must be numeric", Reason: CommandInvalidFormat}
		}
		switch action {
		case "add":
			if m.AddUser(target) {
				return Outcome{Message: fmt.Sprintf("user %s authorized", target), Reason: CommandOK}
			}
			return Outcome{Message: fmt.Sprintf("user %s is already authorized", target), Reason: CommandOK}
		case "remove":
			removed, err := m.RemoveUser(target)
			if err != nil {
				return Outcome{Message: "cannot remove the administrator", Reason: CommandOK}
			}
			if !removed {
				return Outcome{Message: fmt.Sprintf("user %s is not authorized", target), Reason: CommandOK}
			}
			return Outcome{Message: fmt.Sprintf("user %s revoked", target), Reason: CommandOK}
		case "token":
			token, err := m.MintGrant(target)
			if err != nil {
				return Outcome{Message: "failed to mint grant token", Reason: CommandInvalidFormat}
			}
			return Outcome{Message: fmt.Sprintf("one-time token: %s", token), Reason: CommandOK}
		}
	}

	return Outcome{Message: "invalid command format", Reason: CommandInvalidFormat}
}

func (m *Manager) redeemOutcome(token string) Outcome {
	ok, target, reason := m.RedeemGrant(token)
	switch {
	case ok:
		return Outcome{Message: fmt.Sprintf("user %s authorized", target), Reason: CommandOK}
	case reason == ReasonGrantExpired:
		return Outcome{Message: "token expired", Reason: CommandUnauthorized}
	default:
		return Outcome{Message: "invalid token", Reason: CommandUnauthorized}
	}
}

func (m *Manager) userListMessage() string {
	users := m.ListUsers()
	if len(users) == 0 {
		return "no authorized users"
	}
	return "authorized users: " + strings.Join(users, ", ")
}

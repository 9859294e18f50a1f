package bot

import (
	"errors"
	"strconv"
	"strings"

	"fare-alerts/internal/domain"
)

const HelpText = `Commands:
/newalert - create a fare alert
/alerts - list your alerts
/remove <n> - remove alert number n
/check - look up fares for your alerts now
/cancel - stop creating an alert
/help - show this help`

const AdminHelpText = `
Admin:
/pending - list access requests
/approve <id> - grant access
/deny <id> - refuse access`

// Selection payload prefixes.
const (
	prefixConversation = "conv:"
	prefixRemove       = "rm:"
	prefixApprove      = "ap:"
	prefixDeny         = "dn:"
)

var ErrInvalidArguments = errors.New("invalid arguments")

// ParsePosition reads a 1-based alert number.
func ParsePosition(args string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || value < 1 {
		return 0, ErrInvalidArguments
	}
	return value, nil
}

// ParseIdentity reads a numeric identity.
func ParseIdentity(args string) (domain.UserID, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || value == 0 {
		return 0, ErrInvalidArguments
	}
	return domain.UserID(value), nil
}

package commands

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var errNoRoom = errors.New("no room given")

// ParseRoom extracts the room id from a plain id or an invite URL. For URLs
// the room query parameter wins over the last path segment.
func ParseRoom(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errNoRoom
	}
	if !strings.Contains(arg, "://") {
		if strings.ContainsAny(arg, "/?#") {
			return "", fmt.Errorf("invalid room %q", arg)
		}
		return arg, nil
	}

	u, err := url.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid invite link: %w", err)
	}
	if room := strings.TrimSpace(u.Query().Get("room")); room != "" {
		return room, nil
	}
	if room := path.Base(strings.TrimRight(u.Path, "/")); room != "." && room != "/" && room != "" {
		return room, nil
	}
	return "", fmt.Errorf("%w in invite link %q", errNoRoom, arg)
}

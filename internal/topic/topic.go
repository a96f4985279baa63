// Package topic builds and parses the legacy class/zone/device topics and
// owns the slug normalisation shared by every topic scheme.
package topic

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Defaults substituted for empty fields when a Topic is rendered.
const (
	DefaultClass   = "other"
	DefaultZone    = "home"
	DefaultTrigger = "state"
)

// ErrInvalidTopic is returned by Parse for strings that do not have the
// class/zone/device/trigger[/command] shape.
var ErrInvalidTopic = errors.New("topic: invalid topic")

var (
	separatorRun = regexp.MustCompile(`[\s_-]+`)
	nonSlug      = regexp.MustCompile(`[^a-z0-9-]`)
)

// Normalize turns a display name into a topic slug: trimmed, lowercased,
// accents removed, runs of spaces, underscores and dashes collapsed to a
// single dash, and anything outside [a-z0-9-] dropped.
//
// The transform is lossy. Two names can share a slug, so slugs never
// replace device ids as keys.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = norm.NFD.String(s)
	s = separatorRun.ReplaceAllString(s, "-")
	s = nonSlug.ReplaceAllString(s, "")
	return strings.Trim(s, "-")
}

// Sanitize keeps a name readable but makes it safe as a single topic
// level: it trims and replaces "/" and the MQTT wildcards with "-".
func Sanitize(s string) string {
	return strings.NewReplacer("/", "-", "+", "-", "#", "-").Replace(strings.TrimSpace(s))
}

// Topic is the legacy topic tuple
// {root}/{class}/{zone}/{device}/{trigger}[/{command}].
type Topic struct {
	Root    string
	Class   string
	Zone    string
	Device  string
	Trigger string
	Command string
}

// New builds a Topic from display values, normalising every slug field.
func New(root, class, zone, device, trigger, command string) Topic {
	return Topic{
		Root:    strings.Trim(root, "/"),
		Class:   Normalize(class),
		Zone:    Normalize(zone),
		Device:  Normalize(device),
		Trigger: Normalize(trigger),
		Command: Normalize(command),
	}
}

// Parse reads a wire topic. root, when non-empty, must prefix the topic.
// Fields are normalised so parsed and built topics compare equal.
func Parse(s, root string) (Topic, error) {
	root = strings.Trim(root, "/")
	s = strings.Trim(s, "/")

	if root != "" {
		if !strings.HasPrefix(s, root+"/") {
			return Topic{}, fmt.Errorf("%w: %q is not under %q", ErrInvalidTopic, s, root)
		}
		s = s[len(root)+1:]
	}

	parts := strings.Split(s, "/")
	if len(parts) < 4 || len(parts) > 5 {
		return Topic{}, fmt.Errorf("%w: %q has %d levels", ErrInvalidTopic, s, len(parts))
	}

	var command string
	if len(parts) == 5 {
		command = parts[4]
	}
	return New(root, parts[0], parts[1], parts[2], parts[3], command), nil
}

// String renders the topic with defaults for empty fields. Root and
// Command are omitted when empty.
func (t Topic) String() string {
	levels := make([]string, 0, 6)
	if t.Root != "" {
		levels = append(levels, t.Root)
	}
	levels = append(levels,
		orDefault(t.Class, DefaultClass),
		orDefault(t.Zone, DefaultZone),
		t.Device,
		orDefault(t.Trigger, DefaultTrigger),
	)
	if t.Command != "" {
		levels = append(levels, t.Command)
	}
	return strings.Join(levels, "/")
}

// WithCommand returns a copy with Command replaced.
func (t Topic) WithCommand(command string) Topic {
	t.Command = command
	return t
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package capability

import (
	"sort"
	"strings"
)

// DefaultLocations are the light locations known when no device map
// is configured.
var DefaultLocations = []string{"BEDROOM", "LIVING_ROOM"}

// New returns the catalog definition of kind bound to inv. Use
// [NewControlLights] to restrict light locations to a configured set.
func New(kind Kind, inv Invoker) Capability {
	c := Capability{Kind: kind, Invoke: inv}
	switch kind {
	case ControlLights:
		return NewControlLights(DefaultLocations, inv)
	case GetWeatherForecast:
		c.Description = "Fetches the weather forecast. If a location (city name) is provided, " +
			"it fetches weather for that city. Otherwise, it uses the default home coordinates."
		c.Schema = object(map[string]any{
			"location": map[string]any{
				"type":        "string",
				"description": "City name to look up. Omit for home.",
			},
		})
		c.Normalize = dropBlank("location")
	case GetDailyCalendar:
		c.Description = "Retrieves today's upcoming events from the user's calendar."
		c.Schema = object(map[string]any{})
	case SummarizeRecentEmails:
		c.Description = "Fetches and summarizes the most recent emails from the inbox."
		c.Schema = object(map[string]any{})
	case CompileNewsReports:
		c.Description = "Fetches and aggregates news headlines from multiple RSS feeds. " +
			"If no sources are provided, defaults to a standard selection."
		c.Schema = object(map[string]any{
			"sources": map[string]any{
				"type":        "array",
				"description": "Feed keys to compile, e.g. PUBLIC_SERVICE_POLITICS.",
				"items":       map[string]any{"type": "string"},
			},
		})
		c.Normalize = stringList("sources")
	}
	return c
}

// NewControlLights returns the control_lights definition with the
// location argument restricted to locations.
func NewControlLights(locations []string, inv Invoker) Capability {
	locs := append([]string(nil), locations...)
	sort.Strings(locs)
	enum := make([]any, len(locs))
	for i, l := range locs {
		enum[i] = l
	}
	schema := object(map[string]any{
		"location": map[string]any{
			"type":        "string",
			"description": "Room whose light to switch.",
			"enum":        enum,
		},
		"action": map[string]any{
			"type": "string",
			"enum": []any{"ON", "OFF"},
		},
	}, "location", "action")

	return Capability{
		Kind:        ControlLights,
		Description: "Controls smart lights. Switches the light in a room ON or OFF.",
		Schema:      schema,
		Invoke:      inv,
		Normalize:   upperStrings("location", "action"),
	}
}

// upperStrings returns a normalizer that trims and upper-cases the
// named string arguments.
func upperStrings(keys ...string) func(Args) Args {
	return func(a Args) Args {
		for _, k := range keys {
			if s, ok := a[k].(string); ok {
				a[k] = strings.ToUpper(strings.TrimSpace(s))
			}
		}
		return a
	}
}

// dropBlank returns a normalizer that removes the named optional
// arguments when they are null, not a string, or blank, so the
// capability falls back to its default.
func dropBlank(keys ...string) func(Args) Args {
	return func(a Args) Args {
		for _, k := range keys {
			v, ok := a[k]
			if !ok {
				continue
			}
			if s, isStr := v.(string); !isStr || strings.TrimSpace(s) == "" {
				delete(a, k)
			}
		}
		return a
	}
}

// stringList returns a normalizer for the named list argument. A value
// that is not a list is removed so the default selection applies.
// Non-string entries become blank keys, which consumers skip.
func stringList(key string) func(Args) Args {
	return func(a Args) Args {
		switch list := a[key].(type) {
		case nil:
			delete(a, key)
		case []string:
		case []any:
			keys := make([]any, len(list))
			for i, e := range list {
				s, _ := e.(string)
				keys[i] = s
			}
			a[key] = keys
		default:
			delete(a, key)
		}
		return a
	}
}

func object(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}

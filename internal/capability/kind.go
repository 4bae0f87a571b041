// Package capability defines the closed catalog of actions the
// assistant can take on a user's behalf and the registry that binds
// each action to the integration that performs it.
package capability

import "sort"

// Kind identifies a capability. The set is closed: adding one means
// adding a constant here and a case to [Kind.Class].
type Kind string

const (
	ControlLights         Kind = "control_lights"
	GetWeatherForecast    Kind = "get_weather_forecast"
	GetDailyCalendar      Kind = "get_daily_calendar"
	SummarizeRecentEmails Kind = "summarize_recent_emails"
	CompileNewsReports    Kind = "compile_news_reports"
)

// Kinds returns every known kind, sorted.
func Kinds() []Kind {
	kinds := []Kind{
		ControlLights,
		GetWeatherForecast,
		GetDailyCalendar,
		SummarizeRecentEmails,
		CompileNewsReports,
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind maps a tool name emitted by a model to a Kind.
func ParseKind(name string) (Kind, bool) {
	k := Kind(name)
	return k, k.Known()
}

// Known reports whether k is part of the catalog.
func (k Kind) Known() bool {
	switch k {
	case ControlLights, GetWeatherForecast, GetDailyCalendar, SummarizeRecentEmails, CompileNewsReports:
		return true
	}
	return false
}

// Class returns the side-effect class of k. Unknown kinds are
// reported as SideEffecting so they can never run unconfirmed.
func (k Kind) Class() Class {
	switch k {
	case ControlLights:
		return SideEffecting
	case GetWeatherForecast, GetDailyCalendar, SummarizeRecentEmails, CompileNewsReports:
		return Safe
	default:
		return SideEffecting
	}
}

// Class separates read-only capabilities from ones that act on the
// physical world.
type Class int

const (
	// Safe capabilities only read data; they run immediately.
	Safe Class = iota
	// SideEffecting capabilities change something real; they are
	// staged and run only after explicit confirmation.
	SideEffecting
)

// String returns the wire name of the class.
func (c Class) String() string {
	switch c {
	case Safe:
		return "SAFE"
	case SideEffecting:
		return "SIDE_EFFECTING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the class by name in JSON output.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

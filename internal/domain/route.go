package domain

import "fmt"

// Route selects the next processing stage of a turn.
type Route int

const (
	RouteEnd Route = iota + 1
	RouteAnswer
	RouteRAG
	// RouteWeb is only reached after an insufficient knowledge-base lookup.
	RouteWeb
)

func (r Route) String() string {
	switch r {
	case RouteEnd:
		return "end"
	case RouteAnswer:
		return "answer"
	case RouteRAG:
		return "rag"
	case RouteWeb:
		return "web"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

// ParseRoute maps a classifier tag to a Route. Only the router vocabulary is
// accepted; "web" is never a classifier output.
func ParseRoute(tag string) (Route, error) {
	switch tag {
	case "end":
		return RouteEnd, nil
	case "answer":
		return RouteAnswer, nil
	case "rag":
		return RouteRAG, nil
	default:
		return 0, fmt.Errorf("domain: unknown route tag %q", tag)
	}
}

// RouteDecision is the router's verdict for one turn.
type RouteDecision struct {
	Route Route
	// Reply is the canned answer for RouteEnd.
	Reply string
}

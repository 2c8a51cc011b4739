package dispatch

import (
	"fmt"
	"strings"
)

const DefaultQueue = "default"

// Route maps a task name pattern to a queue. A trailing "*" makes the
// pattern a prefix match.
type Route struct {
	Pattern string
	Queue   string
}

func (r Route) matches(task string) bool {
	if prefix, ok := strings.CutSuffix(r.Pattern, "*"); ok {
		return strings.HasPrefix(task, prefix)
	}
	return r.Pattern == task
}

// DefaultRoutes sends each task family to its own queue.
func DefaultRoutes() []Route {
	return []Route{
		{Pattern: "tasks.user.*", Queue: "user_queue"},
		{Pattern: "tasks.task.*", Queue: "task_queue"},
		{Pattern: "tasks.notification.*", Queue: "notification_queue"},
		{Pattern: "tasks.analytics.*", Queue: "analytics_queue"},
	}
}

// Router resolves task names to queues. First matching route wins.
type Router struct {
	routes   []Route
	fallback string
}

func NewRouter(routes []Route, fallback string) *Router {
	if fallback == "" {
		fallback = DefaultQueue
	}
	return &Router{routes: append([]Route(nil), routes...), fallback: fallback}
}

func (r *Router) Resolve(task string) string {
	for _, rt := range r.routes {
		if rt.matches(task) {
			return rt.Queue
		}
	}
	return r.fallback
}

// Queues lists every queue a route points at, in route order, followed by
// the fallback queue.
func (r *Router) Queues() []string {
	seen := make(map[string]bool, len(r.routes)+1)
	var out []string
	for _, rt := range r.routes {
		if !seen[rt.Queue] {
			seen[rt.Queue] = true
			out = append(out, rt.Queue)
		}
	}
	if !seen[r.fallback] {
		out = append(out, r.fallback)
	}
	return out
}

// ParseRoutes reads "pattern=queue" pairs separated by commas, e.g.
// "tasks.user.*=user_queue,tasks.report=reports".
func ParseRoutes(s string) ([]Route, error) {
	var routes []Route
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pattern, queue, ok := strings.Cut(part, "=")
		pattern, queue = strings.TrimSpace(pattern), strings.TrimSpace(queue)
		if !ok || pattern == "" || queue == "" {
			return nil, fmt.Errorf("invalid route %q: want pattern=queue", part)
		}
		routes = append(routes, Route{Pattern: pattern, Queue: queue})
	}
	return routes, nil
}

// Package display renders catalog topics and routing registries for the CLI.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/nfrund/topobus/internal/topicmgr"
	"github.com/nfrund/topobus/internal/topology"
)

// TopicDisplay represents a topic for display purposes
type TopicDisplay struct {
	Name        string                 `json:"name"`
	Scope       string                 `json:"scope"`
	Module      string                 `json:"module"`
	Description string                 `json:"description"`
	Example     string                 `json:"example"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// RouteDisplay is one event type and its route.
type RouteDisplay struct {
	EventType  string `json:"event_type"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Topic      string `json:"topic"`
	Found      bool   `json:"found"`
}

// Topics writes topics as a table or as JSON.
func Topics(w io.Writer, format string, topics []topicmgr.Topic) error {
	switch format {
	case "json":
		out := make([]TopicDisplay, len(topics))
		for i, topic := range topics {
			out[i] = TopicDisplay{
				Name:        topic.Name(),
				Scope:       string(topic.Scope()),
				Module:      topic.Module(),
				Description: topic.Description(),
				Example:     topic.Example(),
				Metadata:    topic.Metadata(),
			}
		}
		return writeJSON(w, struct {
			Topics []TopicDisplay `json:"topics"`
			Count  int            `json:"count"`
		}{out, len(out)})
	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSCOPE\tMODULE\tDESCRIPTION")
		fmt.Fprintln(tw, "----\t-----\t------\t-----------")
		if len(topics) == 0 {
			fmt.Fprintln(tw, "No topics found")
		}
		for _, topic := range topics {
			module := topic.Module()
			if module == "" {
				module = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", topic.Name(), topic.Scope(), module, truncateString(topic.Description(), 50))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q, use table or json", format)
	}
}

// Routes writes the route of each event type, or every route of reg when
// eventTypes is empty.
func Routes(w io.Writer, format string, reg *topology.Registry, eventTypes []string) error {
	if len(eventTypes) == 0 {
		for eventType := range reg.EventRoutes() {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
	}

	rows := make([]RouteDisplay, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		row := RouteDisplay{EventType: eventType}
		if route, ok := reg.GetEventRoute(eventType); ok {
			row.Exchange = route.Exchange
			row.RoutingKey = route.RoutingKey
			row.Topic = route.Topic()
			row.Found = true
		}
		rows = append(rows, row)
	}

	switch format {
	case "json":
		return writeJSON(w, struct {
			Version int64          `json:"version"`
			Routes  []RouteDisplay `json:"routes"`
		}{reg.Version(), rows})
	case "table", "":
		fmt.Fprintf(w, "Registry version %d\n\n", reg.Version())
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "EVENT TYPE\tEXCHANGE\tROUTING KEY\tTOPIC")
		for _, row := range rows {
			if !row.Found {
				fmt.Fprintf(tw, "%s\t-\t-\t(no route)\n", row.EventType)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.EventType, row.Exchange, row.RoutingKey, row.Topic)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q, use table or json", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// truncateString truncates a string to the specified length with ellipsis
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

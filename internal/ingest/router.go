package ingest

import "strings"

// Request kinds accepted over MQTT.
const (
	routeEvaluate = "evaluate"
	routeDataset  = "dataset"
)

// Route is the request kind addressed by an MQTT topic. Name is the dataset
// name from a ".../dataset/{name}" topic.
type Route struct {
	Handler string
	Name    string
}

// ParseTopic routes on the last one or two segments so any prefix in
// MQTT_TOPICS works:
//
//	<prefix>/evaluate         one request document
//	<prefix>/dataset          CSV dataset
//	<prefix>/dataset/{name}   CSV dataset called {name}
//
// It returns nil for anything else, including bare single-segment topics.
func ParseTopic(topic string) *Route {
	segs := strings.Split(strings.Trim(topic, "/"), "/")
	if len(segs) < 2 {
		return nil
	}
	last, prev := segs[len(segs)-1], segs[len(segs)-2]
	switch {
	case last == routeEvaluate || last == routeDataset:
		return &Route{Handler: last}
	case prev == routeDataset:
		return &Route{Handler: routeDataset, Name: last}
	}
	return nil
}

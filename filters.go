package main

type View string

const (
	ViewJobCounts  View = "job-counts"
	ViewRuntime    View = "runtime"
	ViewQueuedTime View = "queued-time"
)

var allViews = []View{ViewJobCounts, ViewRuntime, ViewQueuedTime}

func parseView(s string) (View, bool) {
	for _, v := range allViews {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

func (v View) next() View {
	for i, candidate := range allViews {
		if candidate == v {
			return allViews[(i+1)%len(allViews)]
		}
	}
	return ViewJobCounts
}

func (v View) title() string {
	switch v {
	case ViewRuntime:
		return "Runtime"
	case ViewQueuedTime:
		return "Queued time"
	default:
		return "Job counts"
	}
}

// FilterState is the part of the controller state the persistence adapters own.
type FilterState struct {
	Queue       string
	View        View
	NewestFirst bool
	ActiveOnly  bool
	AutoRefresh bool
}

func defaultFilterState() FilterState {
	return FilterState{
		Queue:       "",
		View:        ViewJobCounts,
		NewestFirst: true,
		ActiveOnly:  false,
		AutoRefresh: true,
	}
}

type GetJobSetsRequest struct {
	Queue       string `json:"queue"`
	NewestFirst bool   `json:"newestFirst"`
	ActiveOnly  bool   `json:"activeOnly"`
}

func (f FilterState) listRequest() GetJobSetsRequest {
	return GetJobSetsRequest{
		Queue:       f.Queue,
		NewestFirst: f.NewestFirst,
		ActiveOnly:  f.ActiveOnly,
	}
}

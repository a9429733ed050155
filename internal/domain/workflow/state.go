package workflow

// Status is one member of a workflow type's closed status set.
type Status string

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// statusSet is a membership index over statuses.
type statusSet map[Status]struct{}

func newStatusSet(statuses ...Status) statusSet {
	set := make(statusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

func (s statusSet) has(status Status) bool {
	_, ok := s[status]
	return ok
}

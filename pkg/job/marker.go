package job

import "strings"

const DefaultStateDelimiter = "__state__"

// StateMarker identifies synthetic jobs that record a state transition of
// another job, named "<job name><delimiter><state>". Marker jobs are archived
// by creation age and left out of state counts. An empty delimiter disables
// the predicate.
type StateMarker struct {
	Delimiter string
}

func DefaultStateMarker() StateMarker {
	return StateMarker{Delimiter: DefaultStateDelimiter}
}

func (m StateMarker) Enabled() bool { return m.Delimiter != "" }

func (m StateMarker) Suffix(s State) string {
	return m.Delimiter + string(s)
}

// Name builds the marker job name for name entering state s.
func (m StateMarker) Name(name string, s State) string {
	return name + m.Suffix(s)
}

func (m StateMarker) IsMarker(name string) bool {
	return m.Enabled() && strings.Contains(name, m.Delimiter)
}

// LikePattern returns a LIKE pattern matching names that contain the
// delimiter, with %, _ and \ escaped. It returns nil when disabled so the
// SQL predicate short-circuits on a NULL parameter.
func (m StateMarker) LikePattern() *string {
	if !m.Enabled() {
		return nil
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	p := "%" + r.Replace(m.Delimiter) + "%"
	return &p
}

package types

// DiagramKind names one of the fixed diagram types a mapping produces.
type DiagramKind string

const (
	DiagramArchitecture    DiagramKind = "architecture"
	DiagramDataFlow        DiagramKind = "data_flow"
	DiagramDependency      DiagramKind = "dependency"
	DiagramDeployment      DiagramKind = "deployment"
	DiagramSequence        DiagramKind = "sequence"
	DiagramComponent       DiagramKind = "component"
	DiagramSecurityPrivacy DiagramKind = "security_privacy"
	DiagramAgentComms      DiagramKind = "agent_communication"
)

// AllDiagramKinds lists every kind in generation order.
var AllDiagramKinds = []DiagramKind{
	DiagramArchitecture,
	DiagramDataFlow,
	DiagramDependency,
	DiagramDeployment,
	DiagramSequence,
	DiagramComponent,
	DiagramSecurityPrivacy,
	DiagramAgentComms,
}

// MaxInsights caps the narrative insight list on every diagram.
const MaxInsights = 8

// DiagramNode is one node of the structured graph behind a diagram.
type DiagramNode struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Kind    string `json:"kind,omitempty"`
	Style   string `json:"style,omitempty"`
	Insight string `json:"insight,omitempty"`
}

// DiagramEdge connects two nodes of the structured graph.
type DiagramEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// DiagramPayload pairs human-readable diagram text (Mermaid syntax) with a
// structured node/edge graph and narrative insights.
type DiagramPayload struct {
	ID          string        `json:"id"`
	Kind        DiagramKind   `json:"kind"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Mermaid     string        `json:"mermaid"`
	Nodes       []DiagramNode `json:"nodes"`
	Edges       []DiagramEdge `json:"edges"`
	Insights    []string      `json:"insights"`
}

// Clone returns a deep copy so transforms never mutate a cached diagram.
func (d DiagramPayload) Clone() DiagramPayload {
	out := d
	out.Nodes = append([]DiagramNode(nil), d.Nodes...)
	out.Edges = append([]DiagramEdge(nil), d.Edges...)
	out.Insights = append([]string(nil), d.Insights...)
	return out
}

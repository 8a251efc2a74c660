// Package taxonomy holds the static domain reference data used to annotate
// Concept nodes: category, upper-ontology class and ORP role (Object,
// Relation or Process). The table here is a compact working set; deployments
// extend it from configuration.
package taxonomy

import "strings"

// ORP roles.
const (
	RoleObject   = "Object"
	RoleRelation = "Relation"
	RoleProcess  = "Process"
)

// Entry describes one domain.
type Entry struct {
	Name          string
	Category      string
	UpperOntology string
	ORPRole       string
}

var entries = map[string]Entry{
	"algebra":           {Name: "Algebra", Category: "mathematics", UpperOntology: "abstract_structure", ORPRole: RoleObject},
	"topology":          {Name: "Topology", Category: "mathematics", UpperOntology: "abstract_structure", ORPRole: RoleObject},
	"linear_algebra":    {Name: "Linear Algebra", Category: "mathematics", UpperOntology: "abstract_structure", ORPRole: RoleObject},
	"calculus":          {Name: "Calculus", Category: "mathematics", UpperOntology: "method", ORPRole: RoleProcess},
	"logic":             {Name: "Logic", Category: "mathematics", UpperOntology: "formal_system", ORPRole: RoleRelation},
	"photosynthesis":    {Name: "Photosynthesis", Category: "biology", UpperOntology: "biochemical_process", ORPRole: RoleProcess},
	"genetics":          {Name: "Genetics", Category: "biology", UpperOntology: "natural_system", ORPRole: RoleObject},
	"evolution":         {Name: "Evolution", Category: "biology", UpperOntology: "natural_process", ORPRole: RoleProcess},
	"thermodynamics":    {Name: "Thermodynamics", Category: "physics", UpperOntology: "physical_theory", ORPRole: RoleRelation},
	"quantum_mechanics": {Name: "Quantum Mechanics", Category: "physics", UpperOntology: "physical_theory", ORPRole: RoleObject},
	"machine_learning":  {Name: "Machine Learning", Category: "computer_science", UpperOntology: "method", ORPRole: RoleProcess},
	"graph_theory":      {Name: "Graph Theory", Category: "mathematics", UpperOntology: "abstract_structure", ORPRole: RoleObject},
	"epistemology":      {Name: "Epistemology", Category: "philosophy", UpperOntology: "inquiry", ORPRole: RoleRelation},
	"microeconomics":    {Name: "Microeconomics", Category: "economics", UpperOntology: "social_system", ORPRole: RoleObject},
}

// Lookup finds a domain entry by name, tolerant of case, spacing and hyphens.
func Lookup(name string) (Entry, bool) {
	key := normalize(name)
	e, ok := entries[key]
	return e, ok
}

// Annotate returns the taxonomy properties for a concept name, empty when
// the concept is not in the table.
func Annotate(name string) map[string]interface{} {
	e, ok := Lookup(name)
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"category":       e.Category,
		"upper_ontology": e.UpperOntology,
		"orp_role":       e.ORPRole,
	}
}

// Domains lists the known domain display names.
func Domains() []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

package engagement

import (
	"sort"

	"github.com/bcgov/CRP-GSS-Project-Management/domain"
)

// ProjectRef is one project a person is engaged on.
type ProjectRef struct {
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	Role      string `json:"role"`
}

// Person is the engagement of one team member.
type Person struct {
	TotalProjects   int            `json:"total_projects"`
	Projects        []ProjectRef   `json:"projects"`
	Roles           []string       `json:"roles"`
	ProjectStatuses map[string]int `json:"project_statuses"`
}

func (p *Person) hasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p *Person) add(ref ProjectRef) {
	if !p.hasRole(ref.Role) {
		p.Roles = append(p.Roles, ref.Role)
	}
	for _, existing := range p.Projects {
		if existing.ProjectID == ref.ProjectID {
			return
		}
	}
	p.TotalProjects++
	p.Projects = append(p.Projects, ref)
	p.ProjectStatuses[ref.Status]++
}

// TeamReport is the engagement of every person across CRP/Caribou projects.
type TeamReport struct {
	People           map[string]*Person `json:"engagement_summary"`
	TotalProjects    int                `json:"total_projects"`
	TotalPeople      int                `json:"total_people"`
	FallbackProjects int                `json:"fallback_projects"`
}

// Team builds engagement by person. Projects with no assigned resources are
// credited to the first coordinator found in their metadata. A person with
// several roles on one project counts that project once.
func Team(projects []domain.Project, resources []Resource) *TeamReport {
	byID := make(map[string]domain.Project, len(projects))
	for _, p := range projects {
		if id := p.ID(); id != "" {
			byID[id] = p
		}
	}

	people := make(map[string]*Person)
	person := func(name string) *Person {
		p, ok := people[name]
		if !ok {
			p = &Person{ProjectStatuses: map[string]int{}}
			people[name] = p
		}
		return p
	}

	withResources := make(map[string]struct{})
	for _, r := range resources {
		if r.Name == "" || r.ProjectID == "" {
			continue
		}
		withResources[r.ProjectID] = struct{}{}
		role := r.Type
		if role == "" {
			role = "Unknown"
		}
		name, status := "Unknown Project", "Unknown"
		if p, ok := byID[r.ProjectID]; ok {
			name, status = nameOr(p, "Unknown Project"), statusOr(p, "Unknown")
		}
		person(r.Name).add(ProjectRef{Name: name, ProjectID: r.ProjectID, Status: status, Role: role})
	}

	fallback := 0
	for _, p := range projects {
		id := p.ID()
		if id == "" {
			continue
		}
		if _, ok := withResources[id]; ok {
			continue
		}
		coordinator := ""
		for _, field := range coordinatorFields {
			if v := p.String(field); v != "" {
				coordinator = v
				break
			}
		}
		if coordinator == "" {
			continue
		}
		fallback++
		person(coordinator).add(ProjectRef{
			Name:      nameOr(p, "Unknown Project"),
			ProjectID: id,
			Status:    statusOr(p, "Unknown"),
			Role:      RoleCoordinatorDefault,
		})
	}

	return &TeamReport{
		People:           people,
		TotalProjects:    len(projects),
		TotalPeople:      len(people),
		FallbackProjects: fallback,
	}
}

// ClientProject is one project submitted by a client.
type ClientProject struct {
	Name      string `json:"name"`
	Number    string `json:"number"`
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
}

// Client is the engagement of one client.
type Client struct {
	TotalProjects   int             `json:"total_projects"`
	Projects        []ClientProject `json:"projects"`
	ProjectStatuses map[string]int  `json:"project_statuses"`
}

// ClientReport counts CRP/Caribou projects per client.
type ClientReport struct {
	Clients       map[string]*Client `json:"client_summary"`
	TotalProjects int                `json:"total_projects"`
	TotalClients  int                `json:"total_clients"`
}

// Clients groups projects by Client_Name. Projects without a client are skipped.
func Clients(projects []domain.Project) *ClientReport {
	clients := make(map[string]*Client)
	for _, p := range projects {
		name := p.ClientName()
		if name == "" || name == "Unknown Client" {
			continue
		}
		c, ok := clients[name]
		if !ok {
			c = &Client{ProjectStatuses: map[string]int{}}
			clients[name] = c
		}
		status := statusOr(p, "Unknown")
		number := p.Number()
		if number == "" {
			number = "N/A"
		}
		id := p.ID()
		if id == "" {
			id = "N/A"
		}
		c.TotalProjects++
		c.Projects = append(c.Projects, ClientProject{
			Name:      nameOr(p, "Unknown Project"),
			Number:    number,
			Status:    status,
			ProjectID: id,
		})
		c.ProjectStatuses[status]++
	}
	return &ClientReport{Clients: clients, TotalProjects: len(projects), TotalClients: len(clients)}
}

// Workload bucket labels, lightest first.
var WorkloadBuckets = []string{"1 project", "2 projects", "3 projects", "4 projects", "5+ projects"}

// Workload counts people per project-count bucket.
func Workload(people map[string]*Person) map[string]int {
	out := make(map[string]int)
	for _, p := range people {
		idx := min(max(p.TotalProjects, 1), len(WorkloadBuckets)) - 1
		out[WorkloadBuckets[idx]]++
	}
	return out
}

// Roles counts people who are coordinators, other team members or both.
// Inferred coordinators count as Other.
func Roles(people map[string]*Person) map[string]int {
	out := map[string]int{"Coordinator": 0, "Other": 0, "Both": 0}
	for _, p := range people {
		coord, other := p.hasRole("Coordinator"), p.hasRole("Other")
		switch {
		case coord && other:
			out["Both"]++
		case coord:
			out["Coordinator"]++
		default:
			out["Other"]++
		}
	}
	return out
}

// RankedPerson pairs a name with its engagement.
type RankedPerson struct {
	Name string `json:"name"`
	*Person
}

// TopPeople returns up to limit people by project count, ties by name.
func TopPeople(people map[string]*Person, limit int) []RankedPerson {
	out := make([]RankedPerson, 0, len(people))
	for name, p := range people {
		out = append(out, RankedPerson{Name: name, Person: p})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalProjects != out[j].TotalProjects {
			return out[i].TotalProjects > out[j].TotalProjects
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RankedClient pairs a client name with its engagement.
type RankedClient struct {
	Name string `json:"name"`
	*Client
}

// TopClients returns up to limit clients by project count, ties by name.
func TopClients(clients map[string]*Client, limit int) []RankedClient {
	out := make([]RankedClient, 0, len(clients))
	for name, c := range clients {
		out = append(out, RankedClient{Name: name, Client: c})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalProjects != out[j].TotalProjects {
			return out[i].TotalProjects > out[j].TotalProjects
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func nameOr(p domain.Project, fallback string) string {
	if n := p.Name(); n != "" {
		return n
	}
	return fallback
}

func statusOr(p domain.Project, fallback string) string {
	if s := p.Status(); s != "" {
		return s
	}
	return fallback
}

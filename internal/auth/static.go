package auth

import "context"

// grant is one token's capability set and project scope.
type grant struct {
	capabilities map[Capability]struct{}
	projects     map[string]struct{}
	allProjects  bool
}

// StaticChecker authorizes against a fixed token table, typically loaded
// from configuration at startup.
type StaticChecker struct {
	grants map[string]grant
}

// TokenGrant declares one token's permissions. A project entry of "*"
// grants access to every project.
type TokenGrant struct {
	Token        string
	Capabilities []Capability
	Projects     []string
}

func NewStaticChecker(tokens []TokenGrant) *StaticChecker {
	grants := make(map[string]grant, len(tokens))
	for _, token := range tokens {
		g := grant{
			capabilities: make(map[Capability]struct{}, len(token.Capabilities)),
			projects:     make(map[string]struct{}, len(token.Projects)),
		}
		for _, capability := range token.Capabilities {
			g.capabilities[capability] = struct{}{}
		}
		for _, project := range token.Projects {
			if project == "*" {
				g.allProjects = true
				continue
			}
			g.projects[project] = struct{}{}
		}
		grants[token.Token] = g
	}
	return &StaticChecker{grants: grants}
}

// Check implements Checker. An empty projectID asks only whether the token
// carries the capability at all.
func (c *StaticChecker) Check(ctx context.Context, token string, capability Capability, projectID string) error {
	g, ok := c.grants[token]
	if !ok || token == "" {
		return ErrUnauthorized
	}
	if _, ok := g.capabilities[capability]; !ok {
		return ErrDenied
	}
	if projectID == "" || g.allProjects {
		return nil
	}
	if _, ok := g.projects[projectID]; !ok {
		return ErrDenied
	}
	return nil
}

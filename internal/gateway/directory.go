package gateway

import (
	"context"
	"strconv"

	"github.com/linnemanlabs/ccgate/internal/model"
)

// DisplayName names a cached instance for filter chips. A miss starts a
// background load so a later render can show the name.
func (s *Service) DisplayName(modelName, id string) (string, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return "", false
	}
	c, ok := s.models.Lookup(modelName)
	if !ok {
		return "", false
	}
	v, ok := c.PeekAny(n)
	if !ok {
		c.Load(context.Background(), n)
		return "", false
	}
	switch v := v.(type) {
	case model.Team:
		return v.Name, v.Name != ""
	case model.Role:
		name := v.NameT
		if s.catalog != nil {
			name = s.catalog.Translate(name)
		}
		return name, name != ""
	case model.User:
		name := v.FullName()
		return name, name != ""
	case model.Incident:
		return v.Name, v.Name != ""
	case model.Worksite:
		if v.CaseNumber != "" {
			return v.CaseNumber, true
		}
		return v.Name, v.Name != ""
	}
	return "", false
}

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticChecker(t *testing.T) {
	ctx := context.Background()
	checker := NewStaticChecker([]TokenGrant{
		{
			Token:        "writer",
			Capabilities: []Capability{CapabilityWrite},
			Projects:     []string{"*"},
		},
		{
			Token:        "p1-reader",
			Capabilities: []Capability{CapabilityRead},
			Projects:     []string{"p1"},
		},
	})

	t.Run("unknown token is unauthorized", func(t *testing.T) {
		assert.ErrorIs(t, checker.Check(ctx, "nope", CapabilityRead, "p1"), ErrUnauthorized)
		assert.ErrorIs(t, checker.Check(ctx, "", CapabilityRead, "p1"), ErrUnauthorized)
	})

	t.Run("missing capability is denied", func(t *testing.T) {
		assert.ErrorIs(t, checker.Check(ctx, "writer", CapabilityManage, ""), ErrDenied)
	})

	t.Run("wildcard project scope covers every project", func(t *testing.T) {
		assert.NoError(t, checker.Check(ctx, "writer", CapabilityWrite, "p1"))
		assert.NoError(t, checker.Check(ctx, "writer", CapabilityWrite, "p2"))
	})

	t.Run("project scope is enforced", func(t *testing.T) {
		assert.NoError(t, checker.Check(ctx, "p1-reader", CapabilityRead, "p1"))
		assert.ErrorIs(t, checker.Check(ctx, "p1-reader", CapabilityRead, "p2"), ErrDenied)
	})

	t.Run("empty project asks for the capability alone", func(t *testing.T) {
		assert.NoError(t, checker.Check(ctx, "p1-reader", CapabilityRead, ""))
	})
}

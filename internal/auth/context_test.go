// ABOUTME: Tests for identity propagation through contexts
// ABOUTME: Covers round trips, missing identities and tenant access checks

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), &Identity{TenantID: "t1"})
	id := FromContext(ctx)
	if assert.NotNil(t, id) {
		assert.Equal(t, "t1", id.TenantID)
	}
	assert.Nil(t, FromContext(context.Background()))
}

func TestIdentityCanAccess(t *testing.T) {
	tenant := &Identity{TenantID: "t1"}
	admin := &Identity{TenantID: "ops", Admin: true}
	var none *Identity

	assert.True(t, tenant.CanAccess("t1"))
	assert.False(t, tenant.CanAccess("t2"))
	assert.True(t, admin.CanAccess("t2"))
	assert.False(t, none.CanAccess("t1"))
}

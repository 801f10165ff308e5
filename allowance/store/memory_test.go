package store_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedal/allowance-engine/allowance"
	mem "github.com/pedal/allowance-engine/allowance/store"
)

func TestSaveTrajectory_RejectsRewrite(t *testing.T) {
	// Trajectories are create-and-delete only; a second save under the same
	// id must not rewrite the distance existing rides were priced against.
	s := mem.NewMemory()
	ctx := context.Background()

	traj := allowance.Trajectory{
		ID: "traj-1", EmployeeID: "emp-1", Name: "Home - Office",
		KmSingleTrip: decimal.RequireFromString("10"),
		Kind:         allowance.PortionFull, DeclarationSigned: true,
	}
	require.NoError(t, s.SaveTrajectory(ctx, traj))

	traj.KmSingleTrip = decimal.RequireFromString("99")
	err := s.SaveTrajectory(ctx, traj)
	assert.ErrorIs(t, err, allowance.ErrTrajectoryExists)

	stored, err := s.GetTrajectory(ctx, "traj-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "10", stored.KmSingleTrip.String())
}

func TestSaveTrajectory_RejectsRewriteInTx(t *testing.T) {
	s := mem.NewMemory()
	ctx := context.Background()

	require.NoError(t, s.SaveTrajectory(ctx, allowance.Trajectory{
		ID: "traj-1", EmployeeID: "emp-1", Name: "Home - Office",
		KmSingleTrip: decimal.RequireFromString("10"),
		Kind:         allowance.PortionFull,
	}))

	err := s.WithTx(ctx, func(tx allowance.Store) error {
		return tx.SaveTrajectory(ctx, allowance.Trajectory{
			ID: "traj-1", EmployeeID: "emp-1",
			KmSingleTrip: decimal.RequireFromString("99"),
			Kind:         allowance.PortionFull,
		})
	})
	assert.ErrorIs(t, err, allowance.ErrTrajectoryExists)
}

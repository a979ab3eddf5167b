package distribution

import (
	"context"
	"distribution_engine/internal/models"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPlanner_CreateBatch(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	batch, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1, addr2}, []string{"10", "20"}, "30")
	require.NoError(t, err)
	require.Len(t, batch.Addresses, len(batch.Balances))
	require.Equal(t, "30", batch.BatchValue)

	execution, err := env.repo.FindExecution(ctx, event.ID, batch.ID)
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusPending, execution.Status)
	require.Empty(t, execution.Signature)
	require.Nil(t, execution.Nonce)
	require.Empty(t, execution.TxHash)
	require.Nil(t, execution.BlockNumber)
}

func TestPlanner_CreateBatch_ComputesValue(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)

	batch, err := env.engine.Planner.CreateBatch(context.Background(), event.ID, []string{addr1, addr2}, []string{"10", "20"}, "")
	require.NoError(t, err)
	require.Equal(t, "30", batch.BatchValue)
}

func TestPlanner_CreateBatch_Validation(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		addresses []string
		balances  []string
		value     string
	}{
		{name: "length mismatch", addresses: []string{addr1, addr2}, balances: []string{"10"}},
		{name: "empty", addresses: nil, balances: nil},
		{name: "bad address", addresses: []string{"addr1"}, balances: []string{"10"}},
		{name: "negative balance", addresses: []string{addr1}, balances: []string{"-1"}},
		{name: "decimal balance", addresses: []string{addr1}, balances: []string{"1.5"}},
		{name: "bad value", addresses: []string{addr1}, balances: []string{"1"}, value: "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.engine.Planner.CreateBatch(ctx, event.ID, tt.addresses, tt.balances, tt.value)
			require.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestPlanner_CreateBatch_UnknownOrDeletedEvent(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	_, err := env.engine.Planner.CreateBatch(ctx, "missing", []string{addr1}, []string{"1"}, "")
	require.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, env.engine.Lifecycle.SoftDelete(ctx, event.ID))
	_, err = env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"1"}, "")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_MatchByAddresses_IsOrderSensitive(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	created, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1, addr2}, []string{"10", "20"}, "30")
	require.NoError(t, err)

	matched, err := env.engine.Planner.MatchByAddresses(ctx, event.ID, []string{addr1, addr2})
	require.NoError(t, err)
	require.Equal(t, created.ID, matched.ID)

	_, err = env.engine.Planner.MatchByAddresses(ctx, event.ID, []string{addr2, addr1})
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.engine.Planner.MatchByAddresses(ctx, event.ID, []string{addr1})
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.engine.Planner.MatchByAddresses(ctx, event.ID, nil)
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.engine.Planner.MatchByAddresses(ctx, "missing", []string{addr1, addr2})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_MatchByAddresses_ScopedToEvent(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	_, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1}, []string{"1"}, "")
	require.NoError(t, err)
	other, err := env.engine.Lifecycle.Create(ctx, testContract, "operator-2", "")
	require.NoError(t, err)

	_, err = env.engine.Planner.MatchByAddresses(ctx, other.ID, []string{addr1})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_FindByAddress(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	first, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr1, addr2}, []string{"10", "20"}, "")
	require.NoError(t, err)
	second, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{addr3}, []string{"5"}, "")
	require.NoError(t, err)

	got, err := env.engine.Planner.FindByAddress(ctx, event.ID, addr2)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	got, err = env.engine.Planner.FindByAddress(ctx, event.ID, addr3)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)

	_, err = env.engine.Planner.FindByAddress(ctx, event.ID, "0x0000000000000000000000000000000000000009")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_Plan_PartitionsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	recipients := []Recipient{
		{Address: addr1, Amount: big.NewInt(10)},
		{Address: addr2, Amount: big.NewInt(20)},
		{Address: addr3, Amount: big.NewInt(30)},
	}
	progressed := 0
	first, err := env.engine.Planner.Plan(ctx, event.ID, recipients, 2, func(n int) { progressed += n })
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, 3, progressed)
	require.Equal(t, []string{addr1, addr2}, first[0].Addresses)
	require.Equal(t, []string{"10", "20"}, first[0].Balances)
	require.Equal(t, "30", first[0].BatchValue)
	require.Equal(t, []string{addr3}, first[1].Addresses)

	second, err := env.engine.Planner.Plan(ctx, event.ID, recipients, 2, nil)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, first[1].ID, second[1].ID)

	executions, err := env.repo.ListExecutions(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
}

func TestPlanner_Plan_Validation(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	_, err := env.engine.Planner.Plan(ctx, event.ID, nil, 0, nil)
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = env.engine.Planner.Plan(ctx, event.ID, []Recipient{{Address: addr1}}, 10, nil)
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = env.engine.Planner.Plan(ctx, "missing", nil, 10, nil)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_AddressesIgnoreHexCase(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	lettered := "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	checksummed := common.HexToAddress(lettered).Hex()

	created, err := env.engine.Planner.CreateBatch(ctx, event.ID, []string{lettered, addr1}, []string{"10", "20"}, "")
	require.NoError(t, err)
	require.Equal(t, []string{checksummed, addr1}, created.Addresses)

	upper := "0x" + strings.ToUpper(lettered[2:])
	for _, address := range []string{lettered, upper, checksummed} {
		got, err := env.engine.Planner.FindByAddress(ctx, event.ID, address)
		require.NoError(t, err)
		require.Equal(t, created.ID, got.ID)

		matched, err := env.engine.Planner.MatchByAddresses(ctx, event.ID, []string{address, addr1})
		require.NoError(t, err)
		require.Equal(t, created.ID, matched.ID)
	}

	_, err = env.engine.Planner.MatchByAddresses(ctx, event.ID, []string{addr1, upper})
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.engine.Planner.FindByAddress(ctx, event.ID, "not-an-address")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPlanner_Plan_DifferentCaseReusesBatches(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	lettered := "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	first, err := env.engine.Planner.Plan(ctx, event.ID, []Recipient{{Address: lettered, Amount: big.NewInt(1)}}, 10, nil)
	require.NoError(t, err)

	upper := "0x" + strings.ToUpper(lettered[2:])
	second, err := env.engine.Planner.Plan(ctx, event.ID, []Recipient{{Address: upper, Amount: big.NewInt(1)}}, 10, nil)
	require.NoError(t, err)
	require.Equal(t, first[0].ID, second[0].ID)

	executions, err := env.repo.ListExecutions(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
}

func TestPlanner_Plan_FailureReportsCreatedBatches(t *testing.T) {
	env := newTestEnv(t)
	event := env.withEvent(t)
	ctx := context.Background()

	recipients := []Recipient{
		{Address: addr1, Amount: big.NewInt(10)},
		{Address: addr2, Amount: big.NewInt(20)},
		{Address: "0x1234", Amount: big.NewInt(30)},
	}
	_, err := env.engine.Planner.Plan(ctx, event.ID, recipients, 1, nil)
	require.ErrorIs(t, err, models.ErrInvalidInput)
	require.Contains(t, err.Error(), "(2 batches created)")

	executions, err := env.repo.ListExecutions(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)
}
